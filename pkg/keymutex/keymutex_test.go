package keymutex_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/calderaware/refinery/pkg/keymutex"
)

func TestTryAcquireRejectsHeldKey(t *testing.T) {
	m := keymutex.New()

	assert.True(t, m.TryAcquire("rec-1"))
	assert.False(t, m.TryAcquire("rec-1"))

	m.Release("rec-1")
	assert.True(t, m.TryAcquire("rec-1"))
}

func TestKeysAreIndependent(t *testing.T) {
	m := keymutex.New()

	assert.True(t, m.TryAcquire("rec-1"))
	assert.True(t, m.TryAcquire("rec-2"))
	assert.False(t, m.TryAcquire("rec-1"))
	assert.False(t, m.TryAcquire("rec-2"))
}

func TestConcurrentAcquireGrantsExactlyOne(t *testing.T) {
	m := keymutex.New()

	const goroutines = 32
	var granted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if m.TryAcquire("rec-1") {
				granted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), granted.Load())
}
