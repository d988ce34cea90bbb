package loader

// DefaultMaxBufferSize is the largest data buffer a peer may attach.
const DefaultMaxBufferSize = 512 * 1024

// Config holds dispatcher configuration options.
type Config struct {
	// MaxBufferSize bounds the size of attached data buffers in bytes.
	MaxBufferSize int

	// ConsistentClock skips cross-process timestamp conversion. Set it when
	// both processes share one monotonic clock.
	ConsistentClock bool

	// EnableMetrics enables dispatch statistics.
	EnableMetrics bool
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxBufferSize:   DefaultMaxBufferSize,
		ConsistentClock: false,
		EnableMetrics:   true,
	}
}

// WithMaxBufferSize returns a copy of the config with the buffer bound set.
func (c Config) WithMaxBufferSize(size int) Config {
	if size > 0 {
		c.MaxBufferSize = size
	}
	return c
}

// WithConsistentClock returns a copy of the config with clock conversion
// disabled or enabled.
func (c Config) WithConsistentClock(consistent bool) Config {
	c.ConsistentClock = consistent
	return c
}

// WithMetrics returns a copy of the config with metrics enabled.
func (c Config) WithMetrics(enabled bool) Config {
	c.EnableMetrics = enabled
	return c
}
