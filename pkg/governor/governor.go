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

// Package governor implements the phantom frequency governor control loop.
//
// Every governed core owns a controller that samples its load once per
// sampling period and moves its frequency linearly with the load between
// the policy limits.
package governor

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/sergelogvinov/phantom-governor/pkg/cpufreq"
	"github.com/sergelogvinov/phantom-governor/pkg/metrics"
	"github.com/sergelogvinov/phantom-governor/pkg/utils/sysattr"
	"github.com/sergelogvinov/phantom-governor/pkg/workqueue"

	"k8s.io/utils/clock"
)

// Name is the governor identity.
const Name = "phantom"

// Sampler reports cumulative time counters of a core.
type Sampler interface {
	Sample(cpu int) (cpufreq.Times, error)
}

// Driver commits frequencies to cores.
type Driver interface {
	// Target resolves freq through table with relation and writes it.
	// On success policy.Cur holds the new frequency.
	Target(policy *cpufreq.Policy, table cpufreq.Table, freq uint, relation cpufreq.Relation) error
	Online(cpu int) bool
}

// TableSource returns the supported frequencies of a core.
type TableSource interface {
	Table(cpu int) (cpufreq.Table, error)
}

// Scheduler runs delayed works bound to a core.
type Scheduler interface {
	QueueOn(cpu int, w *workqueue.DelayedWork, delay time.Duration) bool
	CancelSync(w *workqueue.DelayedWork) bool
	Clock() clock.PassiveClock
}

// AttributeGroup publishes the governor tunables while at least one core is governed.
type AttributeGroup interface {
	Register(attrs []sysattr.Attribute) error
	Unregister() error
}

// Event is a lifecycle event delivered by the host.
type Event int

const (
	EventStart Event = iota
	EventStop
	EventLimits
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventStop:
		return "stop"
	case EventLimits:
		return "limits"
	}

	return fmt.Sprintf("event(%d)", int(e))
}

// Config holds the collaborators of a Governor.
type Config struct {
	Sampler    Sampler
	Driver     Driver
	Tables     TableSource
	Scheduler  Scheduler
	Attributes AttributeGroup
	Tunables   *Tunables
	Metrics    *metrics.Recorder
	// MaxCPUs is the core count shown by the cpucore_table attribute.
	MaxCPUs int
	Logger  logr.Logger
}

// Governor starts, stops and retunes core controllers.
type Governor struct {
	sampler    Sampler
	driver     Driver
	tables     TableSource
	scheduler  Scheduler
	attributes AttributeGroup
	tunables   *Tunables
	metrics    *metrics.Recorder
	maxCPUs    int
	logger     logr.Logger

	// mu serializes the enabled count and the attribute registration.
	mu      sync.Mutex
	enabled int
	// active mirrors enabled for lock-free reads on the sampling path.
	active atomic.Int32

	controllers sync.Map // map[int]*coreController

	// tunablesMu serializes sampling rate updates.
	tunablesMu sync.Mutex
}

// New returns a governor with no running cores.
func New(cfg Config) (*Governor, error) {
	if cfg.Sampler == nil || cfg.Driver == nil || cfg.Tables == nil || cfg.Scheduler == nil {
		return nil, errors.New("governor requires a sampler, a driver, a table source and a scheduler")
	}

	g := &Governor{
		sampler:    cfg.Sampler,
		driver:     cfg.Driver,
		tables:     cfg.Tables,
		scheduler:  cfg.Scheduler,
		attributes: cfg.Attributes,
		tunables:   cfg.Tunables,
		metrics:    cfg.Metrics,
		maxCPUs:    cfg.MaxCPUs,
		logger:     cfg.Logger,
	}

	if g.attributes == nil {
		g.attributes = noopAttributes{}
	}

	if g.tunables == nil {
		g.tunables = NewTunables(DefaultSamplingRate)
	}

	if g.maxCPUs <= 0 {
		g.maxCPUs = 1
	}

	if g.logger.GetSink() == nil {
		g.logger = logr.Discard()
	}

	g.metrics.SamplingRate(g.tunables.SamplingRate())

	return g, nil
}

// Tunables returns the shared tunables.
func (g *Governor) Tunables() *Tunables {
	return g.tunables
}

// Handle dispatches a lifecycle event for policy.CPU.
func (g *Governor) Handle(event Event, policy cpufreq.Policy) error {
	switch event {
	case EventStart:
		return g.Start(policy)
	case EventStop:
		return g.Stop(policy.CPU)
	case EventLimits:
		return g.Limits(policy.CPU, policy.Min, policy.Max)
	}

	return fmt.Errorf("unknown governor event %s", event)
}

// Start governs the core of policy. The current frequency must be known.
func (g *Governor) Start(policy cpufreq.Policy) error {
	cpu := policy.CPU

	if policy.Cur == 0 {
		return fmt.Errorf("cpu %d: %w", cpu, ErrInvalidPolicy)
	}

	if policy.Min > policy.Max {
		return fmt.Errorf("cpu %d: min %d above max %d: %w", cpu, policy.Min, policy.Max, ErrInvalidLimits)
	}

	table, err := g.tables.Table(cpu)
	if err != nil {
		return fmt.Errorf("failed to get frequency table of cpu %d: %w", cpu, err)
	}

	c := newCoreController(g, cpu)

	g.mu.Lock()

	if _, ok := g.controllers.Load(cpu); ok {
		g.mu.Unlock()

		return fmt.Errorf("cpu %d: %w", cpu, ErrAlreadyRunning)
	}

	if err := c.initialize(table, policy); err != nil {
		g.mu.Unlock()

		return err
	}

	g.enabled++
	if g.enabled == 1 {
		if err := g.attributes.Register(g.attributeList()); err != nil {
			g.enabled--
			g.mu.Unlock()

			return fmt.Errorf("%w: %w", ErrAttributeRegistration, err)
		}

		g.logger.V(1).Info("Attributes registered")
	}

	g.active.Store(int32(g.enabled))
	g.controllers.Store(cpu, c)
	active := g.enabled

	g.mu.Unlock()

	g.metrics.ActiveCores(active)
	g.metrics.Frequency(cpu, policy.Cur)

	c.mu.Lock()
	if c.policy != nil {
		c.enabled = true
		g.scheduler.QueueOn(cpu, c.work, g.samplingDelay())
	}
	c.mu.Unlock()

	c.logger.V(1).Info("Governor started", "min", policy.Min, "max", policy.Max, "cur", policy.Cur)

	return nil
}

// Stop stops governing cpu. No sampling of cpu runs after Stop returns.
func (g *Governor) Stop(cpu int) error {
	v, ok := g.controllers.LoadAndDelete(cpu)
	if !ok {
		return fmt.Errorf("cpu %d: %w", cpu, ErrNotRunning)
	}

	c := v.(*coreController) //nolint:forcetypeassert

	c.mu.Lock()
	c.enabled = false
	c.mu.Unlock()

	g.scheduler.CancelSync(c.work)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.enabled--
	g.active.Store(int32(g.enabled))

	c.finalize()

	g.metrics.Forget(cpu)
	g.metrics.ActiveCores(g.enabled)

	if g.enabled == 0 {
		if err := g.attributes.Unregister(); err != nil {
			g.logger.Error(err, "Failed to unregister attributes")
		} else {
			g.logger.V(1).Info("Attributes unregistered")
		}
	}

	c.logger.V(1).Info("Governor stopped")

	return nil
}

// Limits applies new policy limits to a running core.
func (g *Governor) Limits(cpu int, minFreq, maxFreq uint) error {
	if minFreq > maxFreq {
		return fmt.Errorf("cpu %d: min %d above max %d: %w", cpu, minFreq, maxFreq, ErrInvalidLimits)
	}

	c, ok := g.controller(cpu)
	if !ok {
		return fmt.Errorf("cpu %d: %w", cpu, ErrNotRunning)
	}

	return c.limits(minFreq, maxFreq)
}

// SetSamplingRate stores a new sampling period in microseconds.
// Cores waiting longer than the new period are re-armed with it.
func (g *Governor) SetSamplingRate(rate uint32) {
	g.tunablesMu.Lock()
	defer g.tunablesMu.Unlock()

	rate = max(rate, MinSamplingRate)
	if !g.tunables.swap(rate) {
		return
	}

	g.metrics.SamplingRate(rate)
	g.logger.V(1).Info("Sampling rate changed", "samplingRate", rate)

	period := time.Duration(rate) * time.Microsecond

	g.controllers.Range(func(_, v any) bool {
		g.reschedule(v.(*coreController), period) //nolint:forcetypeassert

		return true
	})
}

func (g *Governor) reschedule(c *coreController, period time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled || !c.work.Pending() {
		return
	}

	next := g.scheduler.Clock().Now().Add(period)
	if !next.Before(c.work.Expires()) {
		return
	}

	c.mu.Unlock()
	g.scheduler.CancelSync(c.work)
	c.mu.Lock()

	if !c.enabled {
		return
	}

	g.scheduler.QueueOn(c.cpu, c.work, toTicks(period))

	c.logger.V(2).Info("Sampling re-armed", "delay", period)
}

// Shutdown stops every running core.
func (g *Governor) Shutdown() error {
	var errs error

	for _, cpu := range g.Running() {
		errs = multierr.Append(errs, g.Stop(cpu))
	}

	return errs
}

// Running returns the governed cores in ascending order.
func (g *Governor) Running() []int {
	cpus := []int{}

	g.controllers.Range(func(k, _ any) bool {
		cpus = append(cpus, k.(int)) //nolint:forcetypeassert

		return true
	})

	slices.Sort(cpus)

	return cpus
}

// Policy returns the policy of a running core.
func (g *Governor) Policy(cpu int) (cpufreq.Policy, error) {
	c, ok := g.controller(cpu)
	if !ok {
		return cpufreq.Policy{}, fmt.Errorf("cpu %d: %w", cpu, ErrNotRunning)
	}

	policy, ok := c.snapshot()
	if !ok {
		return cpufreq.Policy{}, fmt.Errorf("cpu %d: %w", cpu, ErrNotRunning)
	}

	return policy, nil
}

func (g *Governor) controller(cpu int) (*coreController, bool) {
	v, ok := g.controllers.Load(cpu)
	if !ok {
		return nil, false
	}

	return v.(*coreController), true //nolint:forcetypeassert
}

// samplingDelay returns the delay until the next sample. With more than one
// core running it is shortened to end on a multiple of the period, so the
// cores wake up together.
func (g *Governor) samplingDelay() time.Duration {
	delay := int64(toTicks(g.tunables.SamplingPeriod()) / workqueue.Tick)

	if g.active.Load() > 1 {
		now := g.scheduler.Clock().Now().UnixNano() / int64(workqueue.Tick)
		delay -= now % delay
	}

	return time.Duration(delay) * workqueue.Tick
}

// toTicks rounds d up to a whole number of ticks.
func toTicks(d time.Duration) time.Duration {
	return (d + workqueue.Tick - 1) / workqueue.Tick * workqueue.Tick
}

type noopAttributes struct{}

func (noopAttributes) Register([]sysattr.Attribute) error { return nil }

func (noopAttributes) Unregister() error { return nil }
