package worker

import (
	"context"
	"log"
	"sync"
)

// Task is a function that represents a background job
type Task func(ctx context.Context) error

// WorkerPool runs non-critical persistence (presence touches, cache writes)
// off the connection read loops.
type WorkerPool struct {
	taskQueue chan Task
	wg        sync.WaitGroup

	// mu serializes Submit against the queue close in Shutdown. Connection
	// read loops outlive the HTTP server's graceful shutdown, so a late
	// Submit must see closed=true rather than send on a closed channel.
	mu     sync.Mutex
	closed bool
}

func NewWorkerPool(size int) *WorkerPool {
	wp := &WorkerPool{
		taskQueue: make(chan Task, 1000), // Buffer for 1000 pending tasks
	}

	// Start the workers
	for range size {
		wp.wg.Add(1) // add to WaitGroup
		go wp.startWorker()
	}

	return wp
}

func (wp *WorkerPool) startWorker() {
	defer wp.wg.Done() // signal when worker finished
	for task := range wp.taskQueue {
		ctx := context.Background()
		if err := task(ctx); err != nil { // run task
			log.Printf("Worker task failed: %v", err)
		}
	}
}

func (wp *WorkerPool) Submit(t Task) {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.closed {
		log.Println("Warning: task submitted during shutdown, dropping.")
		return
	}
	select {
	case wp.taskQueue <- t: // send task to worker pool
	default:
		log.Println("Task queue full, dropping task!")
	}
}

// Shutdown closes the queue and waits for workers to finish. Safe to call
// more than once; Submit calls racing it are dropped, never panicking.
func (wp *WorkerPool) Shutdown() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	close(wp.taskQueue) // Stop accepting new tasks
	wp.mu.Unlock()

	wp.wg.Wait() // Wait for all active workers to finish tasks
}
