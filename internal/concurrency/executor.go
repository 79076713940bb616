// File: internal/concurrency/executor.go
// Package concurrency implements the worker executor that runs
// SocketProcessor tasks: per-worker lock-free local queues with a
// buffered global fallback.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/nioendpoint/api"
)

// TaskFunc is a unit of work submitted to the Executor. Declared as an
// alias (not a distinct named type) so Executor.Submit's signature stays
// identical to api.Executor.Submit(task func()) error for interface
// satisfaction.
type TaskFunc = func()

// Executor dispatches SocketProcessor tasks across worker goroutines,
// using lock-free local queues with a buffered-channel fallback.
type Executor struct {
	globalQueue chan TaskFunc
	localQueues []*lockFreeQueue[TaskFunc]
	workers     []*worker
	closeCh     chan struct{}
	closed      atomic.Bool
	numWorkers  int32
	mu          sync.Mutex

	totalTasks     atomic.Int64
	completedTasks atomic.Int64
	rejectedTasks  atomic.Int64
}

// NewExecutor creates an Executor with numWorkers goroutines (defaulting
// to runtime.NumCPU() when numWorkers <= 0).
func NewExecutor(numWorkers int) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	e := &Executor{
		globalQueue: make(chan TaskFunc, numWorkers*4),
		closeCh:     make(chan struct{}),
		numWorkers:  int32(numWorkers),
	}
	e.localQueues = make([]*lockFreeQueue[TaskFunc], numWorkers)
	e.workers = make([]*worker, numWorkers)
	for i := 0; i < numWorkers; i++ {
		e.localQueues[i] = newLockFreeQueue[TaskFunc](1024)
	}
	for i := 0; i < numWorkers; i++ {
		w := &worker{id: i, executor: e, localQueue: e.localQueues[i], stopCh: make(chan struct{})}
		e.workers[i] = w
		go w.run()
	}
	return e
}

// Submit enqueues task, returning an api.ErrWorkerRejected-kind error if
// the executor is closed or at capacity.
func (e *Executor) Submit(task TaskFunc) error {
	if e.closed.Load() {
		e.rejectedTasks.Add(1)
		return api.NewError(api.ErrWorkerRejected, "executor closed", nil)
	}
	total := e.totalTasks.Add(1)
	idx := int(uint64(total) % uint64(e.NumWorkers()))
	if e.localQueues[idx].enqueue(task) {
		return nil
	}
	select {
	case e.globalQueue <- task:
		return nil
	case <-e.closeCh:
		e.rejectedTasks.Add(1)
		return api.NewError(api.ErrWorkerRejected, "executor closed", nil)
	default:
		e.rejectedTasks.Add(1)
		return api.NewError(api.ErrWorkerRejected, "executor queues full", nil)
	}
}

func (e *Executor) NumWorkers() int { return int(atomic.LoadInt32(&e.numWorkers)) }

// Close shuts the executor down, letting in-flight tasks complete.
func (e *Executor) Close() {
	if e.closed.CompareAndSwap(false, true) {
		close(e.closeCh)
		e.mu.Lock()
		defer e.mu.Unlock()
		for _, w := range e.workers {
			close(w.stopCh)
		}
	}
}

// Stats returns basic executor counters for the control/metrics surface.
func (e *Executor) Stats() map[string]int64 {
	return map[string]int64{
		"total_tasks":     e.totalTasks.Load(),
		"completed_tasks": e.completedTasks.Load(),
		"rejected_tasks":  e.rejectedTasks.Load(),
		"num_workers":     int64(e.NumWorkers()),
	}
}

var _ api.Executor = (*Executor)(nil)

type worker struct {
	id         int
	executor   *Executor
	localQueue *lockFreeQueue[TaskFunc]
	stopCh     chan struct{}
}

func (w *worker) run() {
	for {
		select {
		case <-w.stopCh:
			return
		default:
			if task, ok := w.localQueue.dequeue(); ok {
				w.executeTask(task)
				continue
			}
			select {
			case task := <-w.executor.globalQueue:
				w.executeTask(task)
			case <-w.stopCh:
				return
			default:
				time.Sleep(time.Millisecond)
			}
		}
	}
}

func (w *worker) executeTask(task TaskFunc) {
	defer func() {
		_ = recover()
		w.executor.completedTasks.Add(1)
	}()
	task()
}
