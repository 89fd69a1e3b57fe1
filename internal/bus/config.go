package bus

// Config holds configuration for the in-memory bus
type Config struct {
	// BufferSize is the per-subscriber queue length used when a subscriber
	// does not ask for one
	BufferSize int `yaml:"bufferSize"`
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
}
