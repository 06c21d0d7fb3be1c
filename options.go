package filesession

import (
	"os"

	"pkt.systems/pslog"

	"pkt.systems/filesession/internal/clock"
	"pkt.systems/filesession/internal/sessioncrypto"
)

// OpenFunc opens a session file. It has the signature of os.OpenFile.
type OpenFunc func(name string, flag int, perm os.FileMode) (*os.File, error)

// Option customises a Store.
type Option func(*options)

type options struct {
	Logger pslog.Logger
	Clock  clock.Clock
	Open   OpenFunc
	Crypto *sessioncrypto.Crypto
}

// WithLogger supplies the logger used when the scope context carries none.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithClock injects the clock driving lock waits.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.Clock = c
	}
}

// WithOpenFunc replaces os.OpenFile for session files (useful for tests).
func WithOpenFunc(fn OpenFunc) Option {
	return func(o *options) {
		o.Open = fn
	}
}

// WithCrypto injects encryption material, overriding Config.KeyFile. The
// caller keeps ownership of c.
func WithCrypto(c *sessioncrypto.Crypto) Option {
	return func(o *options) {
		o.Crypto = c
	}
}
