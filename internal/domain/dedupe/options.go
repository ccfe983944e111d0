package dedupe

// Option applies a configuration option to the coalescer.
type Option func(*inMemoryCoalescer)

// WithMaxSize bounds the in-flight set. Zero or negative means unbounded.
func WithMaxSize(size int) Option {
	return func(c *inMemoryCoalescer) {
		c.maxSize = size
	}
}
