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

package workqueue

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// DelayedWork is a function that runs once per arming.
type DelayedWork struct {
	fn func()

	mu        sync.Mutex
	done      *sync.Cond
	cpu       int
	gen       uint64
	pending   bool
	running   bool
	canceling int
	expires   time.Time
	timer     clock.Timer
}

// NewDelayedWork wraps fn into a work that can be queued on a Queue.
func NewDelayedWork(fn func()) *DelayedWork {
	w := &DelayedWork{fn: fn}
	w.done = sync.NewCond(&w.mu)

	return w
}

// Pending reports whether the work is armed and has not started yet.
func (w *DelayedWork) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.pending
}

// Expires returns the time the pending work fires at, zero when not pending.
func (w *DelayedWork) Expires() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.pending {
		return time.Time{}
	}

	return w.expires
}

// CPU returns the core the work was last queued on.
func (w *DelayedWork) CPU() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.cpu
}

func (w *DelayedWork) execute(gen uint64) {
	w.mu.Lock()
	if !w.pending || w.gen != gen {
		w.mu.Unlock()

		return
	}

	w.pending = false
	w.running = true
	w.timer = nil
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.done.Broadcast()
		w.mu.Unlock()
	}()

	w.fn()
}
