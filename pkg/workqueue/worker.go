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
	"runtime"
	"sync"

	"github.com/go-logr/logr"
)

type queuedWork struct {
	work *DelayedWork
	gen  uint64
}

type worker struct {
	cpu    int
	logger logr.Logger

	mu    sync.Mutex
	queue []queuedWork
	kick  chan struct{}
	stop  chan struct{}
}

func (wk *worker) enqueue(w *DelayedWork, gen uint64) {
	wk.mu.Lock()
	wk.queue = append(wk.queue, queuedWork{work: w, gen: gen})
	wk.mu.Unlock()

	select {
	case wk.kick <- struct{}{}:
	default:
	}
}

func (wk *worker) pop() (queuedWork, bool) {
	wk.mu.Lock()
	defer wk.mu.Unlock()

	if len(wk.queue) == 0 {
		return queuedWork{}, false
	}

	item := wk.queue[0]
	wk.queue[0] = queuedWork{}
	wk.queue = wk.queue[1:]

	return item, true
}

func (wk *worker) run(wg *sync.WaitGroup, pin bool) {
	defer wg.Done()

	if pin {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		if err := setAffinity(wk.cpu); err != nil {
			wk.logger.V(1).Info("Failed to pin worker, running unpinned", "error", err.Error())
		} else {
			wk.logger.V(3).Info("Worker pinned to core")
		}
	}

	for {
		select {
		case <-wk.stop:
			return
		case <-wk.kick:
		}

		for {
			item, ok := wk.pop()
			if !ok {
				break
			}

			item.work.execute(item.gen)
		}
	}
}
