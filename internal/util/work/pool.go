// Package work provides the shared worker pool used to offload CPU-bound
// signal processing so request handling goroutines are never blocked.
package work

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrPoolClosed = errors.New("worker pool closed")

// Job is a unit of CPU-bound work executed on a pool worker.
type Job func(ctx context.Context) error

type task struct {
	ctx  context.Context
	job  Job
	done chan error
}

// Pool is a fixed-size worker pool. Submitted jobs are executed in order of
// arrival; Do blocks the caller until its job has run.
type Pool struct {
	tasks   chan *task
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewPool starts numWorkers workers.
func NewPool(numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	p := &Pool{
		tasks: make(chan *task, numWorkers*4),
	}
	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for t := range p.tasks {
		select {
		case <-t.ctx.Done():
			t.done <- t.ctx.Err()
			continue
		default:
		}
		t.done <- p.execute(t)
	}
}

func (p *Pool) execute(t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return t.job(t.ctx)
}

// Do submits a job and waits for it to complete, honoring ctx while waiting.
func (p *Pool) Do(ctx context.Context, job Job) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	t := &task{ctx: ctx, job: job, done: make(chan error, 1)}
	p.tasks <- t
	p.mu.Unlock()

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains outstanding jobs and stops all workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}
