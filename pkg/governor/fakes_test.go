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

package governor

import (
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sergelogvinov/phantom-governor/pkg/cpufreq"
	"github.com/sergelogvinov/phantom-governor/pkg/metrics"
	"github.com/sergelogvinov/phantom-governor/pkg/utils/sysattr"
	"github.com/sergelogvinov/phantom-governor/pkg/workqueue"

	"k8s.io/klog/v2/ktesting"
	clocktesting "k8s.io/utils/clock/testing"
)

var (
	testTable = cpufreq.Table{200000, 400000, 500000, 600000, 800000, 1000000, 1200000, 1400000}

	errSampler = errors.New("sampler failed")
)

type fakeSampler struct {
	mu    sync.Mutex
	times map[int]cpufreq.Times
	err   error
	calls atomic.Int32
}

func newFakeSampler() *fakeSampler {
	return &fakeSampler{times: map[int]cpufreq.Times{}}
}

func (s *fakeSampler) Sample(cpu int) (cpufreq.Times, error) {
	s.calls.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return cpufreq.Times{}, s.err
	}

	return s.times[cpu], nil
}

func (s *fakeSampler) set(cpu int, wall, idle uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.times[cpu] = cpufreq.Times{Wall: wall, Idle: idle}
}

func (s *fakeSampler) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.err = err
}

type targetCall struct {
	CPU      int
	Freq     uint
	Relation cpufreq.Relation
}

type fakeDriver struct {
	mu      sync.Mutex
	calls   []targetCall
	offline map[int]bool
	err     error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{offline: map[int]bool{}}
}

func (d *fakeDriver) Target(policy *cpufreq.Policy, table cpufreq.Table, freq uint, relation cpufreq.Relation) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls = append(d.calls, targetCall{CPU: policy.CPU, Freq: freq, Relation: relation})

	if d.err != nil {
		return d.err
	}

	resolved, err := table.Target(policy.Min, policy.Max, policy.Clamp(freq), relation)
	if err != nil {
		return err
	}

	policy.Cur = resolved

	return nil
}

func (d *fakeDriver) Online(cpu int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return !d.offline[cpu]
}

func (d *fakeDriver) setOnline(cpu int, online bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.offline[cpu] = !online
}

func (d *fakeDriver) targets() []targetCall {
	d.mu.Lock()
	defer d.mu.Unlock()

	return slices.Clone(d.calls)
}

type fakeTables struct {
	table cpufreq.Table
}

func (f fakeTables) Table(_ int) (cpufreq.Table, error) {
	if len(f.table) == 0 {
		return nil, cpufreq.ErrEmptyTable
	}

	return f.table, nil
}

type attributesMock struct {
	mock.Mock
}

func (a *attributesMock) Register(attrs []sysattr.Attribute) error {
	return a.Called(attrs).Error(0)
}

func (a *attributesMock) Unregister() error {
	return a.Called().Error(0)
}

type countingScheduler struct {
	*workqueue.Queue

	queued  atomic.Int32
	cancels atomic.Int32
}

func (s *countingScheduler) QueueOn(cpu int, w *workqueue.DelayedWork, delay time.Duration) bool {
	s.queued.Add(1)

	return s.Queue.QueueOn(cpu, w, delay)
}

func (s *countingScheduler) CancelSync(w *workqueue.DelayedWork) bool {
	s.cancels.Add(1)

	return s.Queue.CancelSync(w)
}

type testEnv struct {
	gov       *Governor
	clock     *clocktesting.FakeClock
	sampler   *fakeSampler
	driver    *fakeDriver
	attrs     *attributesMock
	scheduler *countingScheduler
	registry  *prometheus.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger, _ := ktesting.NewTestContext(t)

	env := &testEnv{
		clock:    clocktesting.NewFakeClock(time.Unix(1000, 0)),
		sampler:  newFakeSampler(),
		driver:   newFakeDriver(),
		attrs:    &attributesMock{},
		registry: prometheus.NewRegistry(),
	}

	queue := workqueue.New(workqueue.WithClock(env.clock), workqueue.WithAffinity(false), workqueue.WithLogger(logger))
	t.Cleanup(queue.Close)

	env.scheduler = &countingScheduler{Queue: queue}

	recorder, err := metrics.NewRecorder(env.registry)
	require.NoError(t, err)

	env.gov, err = New(Config{
		Sampler:    env.sampler,
		Driver:     env.driver,
		Tables:     fakeTables{table: testTable},
		Scheduler:  env.scheduler,
		Attributes: env.attrs,
		Tunables:   NewTunables(DefaultSamplingRate),
		Metrics:    recorder,
		MaxCPUs:    4,
		Logger:     logger,
	})
	require.NoError(t, err)

	return env
}

func testPolicy(cpu int) cpufreq.Policy {
	return cpufreq.Policy{CPU: cpu, Min: 200000, Max: 1400000, Cur: 1200000}
}

// start governs cpus with testPolicy.
func (e *testEnv) start(t *testing.T, cpus ...int) {
	t.Helper()

	for _, cpu := range cpus {
		require.NoError(t, e.gov.Start(testPolicy(cpu)))
	}
}

func (e *testEnv) expectRegistration() {
	e.attrs.On("Register", mock.Anything).Return(nil).Once()
	e.attrs.On("Unregister").Return(nil).Once()
}
