// Copyright 2024 github.com/prixladi
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pool implements a bounded FIFO worker pool.
//
// The pool moves between three states. Idle: no workers, jobs may still be
// queued. Running: workers pop jobs in order. Exiting: workers drain the
// remaining queue and exit. FinishAndStop drains everything; WaitAndPause
// lets workers finish the job they hold and keeps queued jobs for a later
// Start.
package pool // import "github.com/prixladi/conc/internal/pool"

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// State of the pool lifecycle.
type State int

const (
	Idle State = iota
	Running
	Exiting
)

// Errors returned by lifecycle operations.
var (
	ErrAlreadyRunning = errors.New("pool is already running")
	ErrNotRunning     = errors.New("pool is not running")
	ErrNotIdle        = errors.New("pool is not idle")
	ErrQueueFull      = errors.New("pool queue is full")
)

type job struct {
	name string
	run  func(args any)
	args any
}

// Pool is a fixed-size worker pool over a bounded job queue.
type Pool struct {
	name     string
	size     int
	capacity int
	log      *slog.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	state State
	queue []job
	wg    sync.WaitGroup

	jobSeq atomic.Uint64
}

// New creates an idle pool with the given worker count and queue capacity.
// A capacity of zero means unbounded.
func New(name string, size, capacity int, log *slog.Logger) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("invalid pool size %d", size)
	}
	p := &Pool{
		name:     name,
		size:     size,
		capacity: capacity,
		log:      log.With("pool", name),
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

// Start spawns the workers. Starting a running pool is an error.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Idle {
		return ErrAlreadyRunning
	}
	p.state = Running

	p.log.Info("starting workers", "count", p.size)
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return nil
}

// Queue appends a job. The job runs when the pool is (or next becomes)
// running. An empty name gets a generated one. Returns ErrQueueFull when the
// queue is at capacity.
func (p *Pool) Queue(name string, run func(args any), args any) error {
	if name == "" {
		name = fmt.Sprintf("job-%d", p.jobSeq.Add(1))
	}

	p.mu.Lock()
	if p.capacity > 0 && len(p.queue) >= p.capacity {
		p.mu.Unlock()
		p.log.Error("queue full", "capacity", p.capacity, "job", name)
		return ErrQueueFull
	}
	p.queue = append(p.queue, job{name: name, run: run, args: args})
	p.mu.Unlock()

	p.cond.Signal()
	return nil
}

// FinishAndStop drains the queue, stops the workers and returns the pool to
// Idle.
func (p *Pool) FinishAndStop() error {
	p.mu.Lock()
	if p.state != Running {
		p.mu.Unlock()
		return ErrNotRunning
	}
	p.state = Exiting
	p.mu.Unlock()
	p.cond.Broadcast()

	p.wg.Wait()

	p.mu.Lock()
	p.state = Idle
	p.mu.Unlock()

	p.log.Info("stopped")
	return nil
}

// WaitAndPause stops the workers after the jobs they currently hold finish.
// Queued but not-yet-started jobs stay in the queue for a subsequent Start.
func (p *Pool) WaitAndPause() error {
	p.mu.Lock()
	if p.state != Running {
		p.mu.Unlock()
		return ErrNotRunning
	}
	p.state = Idle
	p.mu.Unlock()
	p.cond.Broadcast()

	p.wg.Wait()

	p.log.Info("paused", "queued", p.QueueLen())
	return nil
}

// Close releases the queue. It fails unless the pool is idle and is safe to
// retry after a stop.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Idle {
		return ErrNotIdle
	}
	p.queue = nil
	return nil
}

// QueueLen reports the number of queued, not-yet-started jobs.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// CurrentState reports the lifecycle state.
func (p *Pool) CurrentState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := p.log.With("worker", id)
	for {
		p.mu.Lock()

		if p.state == Idle {
			p.mu.Unlock()
			log.Debug("pool idle, exiting")
			return
		}

		if len(p.queue) > 0 {
			next := p.queue[0]
			p.queue = p.queue[1:]
			drained := len(p.queue) == 0
			p.mu.Unlock()

			if drained {
				// A waiter may be blocked on queue emptiness.
				p.cond.Broadcast()
			}

			log.Debug("running job", "job", next.name)
			next.run(next.args)
			continue
		}

		if p.state == Exiting {
			p.mu.Unlock()
			log.Debug("queue drained, exiting")
			return
		}

		p.cond.Wait()
		p.mu.Unlock()
	}
}
