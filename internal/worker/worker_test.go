package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool_RunsSubmittedTasks(t *testing.T) {
	pool := NewWorkerPool(2)

	var ran atomic.Int64
	for range 10 {
		pool.Submit(func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
	}

	// Shutdown drains the queue before returning
	pool.Shutdown()

	assert.Equal(t, int64(10), ran.Load())
}

func TestWorkerPool_SubmitAfterShutdownIsDropped(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Shutdown()

	var ran atomic.Int64
	assert.NotPanics(t, func() {
		pool.Submit(func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
	})
	assert.Equal(t, int64(0), ran.Load())
}

func TestWorkerPool_ShutdownIsIdempotent(t *testing.T) {
	pool := NewWorkerPool(1)

	assert.NotPanics(t, func() {
		pool.Shutdown()
		pool.Shutdown()
	})
}

// Submits keep racing Shutdown the way lingering websocket read loops do
// after the HTTP server has stopped; none of them may panic.
func TestWorkerPool_SubmitDuringShutdownDoesNotPanic(t *testing.T) {
	pool := NewWorkerPool(2)

	var wg sync.WaitGroup
	start := make(chan struct{})

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for range 100 {
				pool.Submit(func(ctx context.Context) error { return nil })
			}
		}()
	}

	close(start)
	pool.Shutdown()
	wg.Wait()
}
