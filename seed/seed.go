// Package seed derives the per-request seed that drives every pseudo-random
// choice in the shield and watermark stages.
package seed

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strconv"
	"time"

	"xdao.co/faceguard/faults"
)

// RandomBytes is the amount of fresh entropy mixed into each seed.
const RandomBytes = 16

// Seed is a derived per-request seed. Value is lowercase hex of the HMAC.
type Seed struct {
	Value     string
	Timestamp time.Time
}

func (s Seed) String() string { return s.Value }

// Deriver turns request entropy and the server secret into seeds.
// A Deriver holds no mutable state and is safe for concurrent use.
type Deriver struct {
	secret []byte
	random io.Reader
	now    func() time.Time
}

type Option func(*Deriver)

// WithRandom overrides the entropy source (crypto/rand by default).
func WithRandom(r io.Reader) Option { return func(d *Deriver) { d.random = r } }

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option { return func(d *Deriver) { d.now = now } }

// NewDeriver fails when the server secret is absent; an unkeyed seed could be
// re-derived by anyone.
func NewDeriver(secret []byte, opts ...Option) (*Deriver, error) {
	if len(secret) == 0 {
		return nil, faults.New(faults.KindSigningUnavailable, "FG-SEED-001", "server secret is not configured")
	}
	d := &Deriver{
		secret: append([]byte(nil), secret...),
		random: rand.Reader,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Derive produces a fresh seed for owner.
func (d *Deriver) Derive(owner string) (Seed, error) {
	ts := d.now().UTC()
	random := make([]byte, RandomBytes)
	if _, err := io.ReadFull(d.random, random); err != nil {
		return Seed{}, faults.Wrap(faults.KindInternal, "FG-SEED-002", "read seed entropy", err)
	}
	return Seed{Value: Compute(d.secret, ts, random, owner), Timestamp: ts}, nil
}

// Compute is the pure derivation: HMAC-SHA256(secret, unixMillis ‖ random ‖ owner).
func Compute(secret []byte, ts time.Time, random []byte, owner string) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(strconv.FormatInt(ts.UnixMilli(), 10)))
	_, _ = mac.Write(random)
	_, _ = mac.Write([]byte(owner))
	return hex.EncodeToString(mac.Sum(nil))
}
