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

package reconciler_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergelogvinov/phantom-governor/pkg/utils/reconciler"

	"k8s.io/klog/v2/ktesting"
	clocktesting "k8s.io/utils/clock/testing"
)

var errReconcile = errors.New("reconcile failed")

type recorder struct {
	mu     sync.Mutex
	events []reconciler.Event
	fail   int
}

func (r *recorder) Reconcile(_ context.Context, _ reconciler.EventSender, event reconciler.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)

	if r.fail > 0 {
		r.fail--

		return errReconcile
	}

	return nil
}

func (r *recorder) count(eventType reconciler.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0

	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}

	return n
}

func (r *recorder) has(event reconciler.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.events {
		if e.Equal(event) {
			return true
		}
	}

	return false
}

func newTestReconciler(t *testing.T, cfg reconciler.Config, h reconciler.Handler) *reconciler.Reconciler {
	t.Helper()

	_, ctx := ktesting.NewTestContext(t)

	rf, err := reconciler.NewReconciler(ctx, cfg, h)
	require.NoError(t, err)
	require.NoError(t, rf.Start())
	t.Cleanup(rf.Stop)

	return rf
}

func testConfig(t *testing.T, fakeClock *clocktesting.FakeClock) reconciler.Config {
	t.Helper()

	logger, _ := ktesting.NewTestContext(t)

	cfg := reconciler.DefaultConfig(logger)
	cfg.Clock = fakeClock

	return cfg
}

func TestReconcilerSync(t *testing.T) {
	t.Parallel()

	fakeClock := clocktesting.NewFakeClock(time.Unix(1000, 0))
	h := &recorder{}

	newTestReconciler(t, testConfig(t, fakeClock), h)

	assert.Eventually(t, func() bool { return h.count(reconciler.TimerEvent) == 1 }, time.Second, 5*time.Millisecond)

	// sync ticker and retry ticker
	assert.Eventually(t, func() bool { return fakeClock.Waiters() == 2 }, time.Second, 5*time.Millisecond)

	fakeClock.Step(5 * time.Second)
	assert.Eventually(t, func() bool { return h.count(reconciler.TimerEvent) == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, h.has(reconciler.Event{Type: reconciler.TimerEvent, Key: reconciler.SyncKey}))
}

func TestReconcilerRetry(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		msg        string
		fail       int
		maxRetries int
		expected   int
	}{
		{msg: "succeeds on retry", fail: 1, maxRetries: 5, expected: 2},
		{msg: "gives up", fail: 10, maxRetries: 1, expected: 2},
	}

	for _, tt := range testCases {
		t.Run(tt.msg, func(t *testing.T) {
			t.Parallel()

			fakeClock := clocktesting.NewFakeClock(time.Unix(1000, 0))
			h := &recorder{fail: tt.fail}

			cfg := testConfig(t, fakeClock)
			cfg.SyncDelay = 0
			cfg.MaxRetries = tt.maxRetries

			rf := newTestReconciler(t, cfg, h)

			assert.Eventually(t, func() bool { return fakeClock.Waiters() == 1 }, time.Second, 5*time.Millisecond)

			rf.SendEvent(reconciler.Event{Type: reconciler.FileEvent, Key: "sampling_rate"})
			assert.Eventually(t, func() bool { return h.count(reconciler.FileEvent) == 1 }, time.Second, 5*time.Millisecond)

			for range 5 {
				fakeClock.Step(3 * time.Second)
				time.Sleep(20 * time.Millisecond)
			}

			assert.Eventually(t, func() bool { return h.count(reconciler.FileEvent) == tt.expected }, time.Second, 5*time.Millisecond)
			assert.Never(t, func() bool { return h.count(reconciler.FileEvent) > tt.expected }, 100*time.Millisecond, 10*time.Millisecond)
		})
	}
}

func TestReconcilerWatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	h := &recorder{}

	cfg := testConfig(t, clocktesting.NewFakeClock(time.Unix(1000, 0)))
	cfg.SyncDelay = 0

	rf := newTestReconciler(t, cfg, h)

	require.NoError(t, rf.Watch(dir))

	name := filepath.Join(dir, "sampling_rate")
	require.NoError(t, os.WriteFile(name, []byte("20000\n"), 0o644))

	assert.Eventually(t, func() bool {
		return h.has(reconciler.Event{Type: reconciler.FileEvent, Key: name})
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, rf.Unwatch(dir))
	assert.Error(t, rf.Unwatch(dir))
	assert.Error(t, rf.Watch(filepath.Join(dir, "missing")))
}
