// Package utils contains shared engine utilities: the worker pool used by
// parallel builds and the parallelism throttle.
package utils

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// ParallelFactor controls the max level of parallelization. This might be
// useful to set in tests where too much parallelism actually slows tests
// down in aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// WorkerPool is a fixed-size pool of workers draining a single FIFO queue of
// jobs. Jobs are nullary closures and may themselves queue further jobs,
// which recursive subdivision relies on.
type WorkerPool struct {
	mu         sync.Mutex
	cond       *sync.Cond
	queue      []func()
	inFlight   int
	numWorkers int
	started    bool
	shutdown   bool
	workers    sync.WaitGroup
}

// NewWorkerPool returns a pool of the given size. A size of zero or less
// defaults to ParallelFactor.
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = ParallelFactor
	}
	pool := &WorkerPool{numWorkers: numWorkers}
	pool.cond = sync.NewCond(&pool.mu)
	return pool
}

// Start spawns the workers. Calling Start on a running pool is a no-op.
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.shutdown = false
	p.workers.Add(p.numWorkers)
	for i := 0; i < p.numWorkers; i++ {
		goutils.PanicCapturingGo(func() {
			defer p.workers.Done()
			p.work()
		})
	}
}

func (p *WorkerPool) work() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.shutdown {
			p.cond.Wait()
		}
		if p.shutdown && len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		job := p.queue[0]
		p.queue = p.queue[1:]
		// The in-flight count must cover the window between dequeue and the
		// end of execution or Busy could observe an empty queue while the
		// last job still runs.
		p.inFlight++
		p.mu.Unlock()

		job()

		p.mu.Lock()
		p.inFlight--
		if p.inFlight == 0 && len(p.queue) == 0 {
			p.cond.Broadcast()
		}
		p.mu.Unlock()
	}
}

// Queue enqueues a job for execution by the next free worker. The pool must
// have been started for the job to run.
func (p *WorkerPool) Queue(job func()) {
	p.mu.Lock()
	p.queue = append(p.queue, job)
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Busy reports whether any job is queued or executing.
func (p *WorkerPool) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) > 0 || p.inFlight > 0
}

// Wait blocks until the queue is empty and no job is in flight.
func (p *WorkerPool) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) > 0 || p.inFlight > 0 {
		p.cond.Wait()
	}
}

// Stop shuts the pool down and joins the workers. It is an error to stop a
// pool that is still busy; call Wait first.
func (p *WorkerPool) Stop() error {
	p.mu.Lock()
	if len(p.queue) > 0 || p.inFlight > 0 {
		p.mu.Unlock()
		return errors.New("cannot stop a busy worker pool")
	}
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.shutdown = true
	p.started = false
	p.mu.Unlock()
	p.cond.Broadcast()
	p.workers.Wait()
	return nil
}
