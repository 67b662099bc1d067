package registry

// Usage restricts which programs accept a given backend.
type Usage uint8

const (
	// UsageCLI marks backends available to the faceguard CLI.
	UsageCLI Usage = 1 << iota
	// UsageDaemon marks backends the store daemon can serve from.
	UsageDaemon
)

func (u Usage) allows(want Usage) bool { return u&want != 0 }
