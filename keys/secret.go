package keys

import (
	"bytes"
	"fmt"
	"os"
)

// LoadSecretFile reads a server secret from path. Trailing whitespace is
// trimmed. The file must not be readable by group or others.
func LoadSecretFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return nil, fmt.Errorf("secret file %s has permissions %#o; want 0600 or stricter", path, perm)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimRight(data, " \t\r\n")
	if len(data) == 0 {
		return nil, fmt.Errorf("secret file %s is empty", path)
	}
	return data, nil
}
