/*
Copyright 2025 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package workqueue runs delayed works on per-core workers.
//
// Every core gets its own worker goroutine, locked to an OS thread pinned to
// that core. Works queued for a core execute one at a time in that worker,
// so a work never runs concurrently with itself.
package workqueue

import (
	"sync"
	"time"

	"github.com/go-logr/logr"

	"k8s.io/utils/clock"
)

// Tick is the scheduling resolution of the queue.
const Tick = time.Millisecond

// Queue schedules delayed works on per-core workers.
type Queue struct {
	clock  clock.WithDelayedExecution
	logger logr.Logger
	pin    bool

	mu      sync.Mutex
	workers map[int]*worker
	closed  bool
	wg      sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock replaces the real clock, used by tests.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(q *Queue) {
		q.clock = c
	}
}

// WithAffinity enables or disables pinning of workers to their core.
func WithAffinity(enabled bool) Option {
	return func(q *Queue) {
		q.pin = enabled
	}
}

// WithLogger sets the queue logger.
func WithLogger(logger logr.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// New creates a queue, workers are started on first use.
func New(opts ...Option) *Queue {
	q := &Queue{
		clock:   clock.RealClock{},
		logger:  logr.Discard(),
		pin:     true,
		workers: map[int]*worker{},
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Clock returns the clock the queue measures delays with.
func (q *Queue) Clock() clock.PassiveClock {
	return q.clock
}

// QueueOn arms w to run on cpu after delay.
// It returns false if the work is already pending, being canceled, or the queue is closed.
func (q *Queue) QueueOn(cpu int, w *DelayedWork, delay time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending || w.canceling > 0 {
		return false
	}

	wk := q.worker(cpu)
	if wk == nil {
		return false
	}

	w.gen++
	w.pending = true
	w.cpu = cpu
	w.expires = q.clock.Now().Add(delay)

	gen := w.gen
	if delay <= 0 {
		w.timer = nil
		wk.enqueue(w, gen)

		return true
	}

	// The fake clock runs this callback with its own lock held,
	// so enqueue must not touch the clock or the work lock.
	w.timer = q.clock.AfterFunc(delay, func() {
		wk.enqueue(w, gen)
	})

	return true
}

// CancelSync cancels a pending w and waits for a running execution to finish.
// The work cannot re-arm itself while the cancel is in progress.
// It must not be called from the work function itself.
func (q *Queue) CancelSync(w *DelayedWork) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.canceling++
	defer func() { w.canceling-- }()

	wasPending := w.pending

	w.gen++
	w.pending = false

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}

	for w.running {
		w.done.Wait()
	}

	return wasPending
}

// Close stops all workers. Works queued after Close never run.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()

		return
	}

	q.closed = true
	for _, wk := range q.workers {
		close(wk.stop)
	}
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *Queue) worker(cpu int) *worker {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	if wk, ok := q.workers[cpu]; ok {
		return wk
	}

	wk := &worker{
		cpu:    cpu,
		kick:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		logger: q.logger.WithValues("cpu", cpu),
	}
	q.workers[cpu] = wk

	q.wg.Add(1)
	go wk.run(&q.wg, q.pin)

	return wk
}
