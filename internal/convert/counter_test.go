package convert

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounter_StartsAtInitial(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, NewCounter(0).Value())
	assert.Equal(t, 7, NewCounter(7).Value())
}

func TestCounter_Increment(t *testing.T) {
	t.Parallel()

	counter := NewCounter(0)
	counter.Increment()
	counter.Increment()

	assert.Equal(t, 2, counter.Value())
}

func TestCounter_ConcurrentIncrements(t *testing.T) {
	t.Parallel()

	const (
		goroutines = 8
		increments = 1000
	)

	counter := NewCounter(0)

	var wg sync.WaitGroup

	for range goroutines {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range increments {
				counter.Increment()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, goroutines*increments, counter.Value())
}
