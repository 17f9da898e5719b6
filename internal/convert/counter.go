package convert

import "sync"

// Counter is a mutex-guarded monotonically increasing counter. The
// conversion flow writes it and the progress reporter reads it.
type Counter struct {
	mu    sync.Mutex
	value int
}

// NewCounter creates a counter starting at initial.
func NewCounter(initial int) *Counter {
	return &Counter{value: initial}
}

// Increment adds one to the counter.
func (c *Counter) Increment() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.value++
}

// Value returns the current count.
func (c *Counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.value
}
