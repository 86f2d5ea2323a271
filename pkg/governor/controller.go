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
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/sergelogvinov/phantom-governor/pkg/cpufreq"
	"github.com/sergelogvinov/phantom-governor/pkg/metrics"
	"github.com/sergelogvinov/phantom-governor/pkg/workqueue"
)

// coreController is the governor state of one core.
type coreController struct {
	cpu    int
	gov    *Governor
	logger logr.Logger

	// mu serializes sampling, re-arming and limit changes of this core.
	mu       sync.Mutex
	prevWall uint64
	prevIdle uint64
	table    cpufreq.Table
	policy   *cpufreq.Policy
	enabled  bool
	work     *workqueue.DelayedWork
}

func newCoreController(g *Governor, cpu int) *coreController {
	c := &coreController{
		cpu:    cpu,
		gov:    g,
		logger: g.logger.WithValues("cpu", cpu),
	}
	c.work = workqueue.NewDelayedWork(c.timer)

	return c
}

// initialize takes the first counter snapshot. The controller is not yet
// visible to the scheduler, so no lock is needed.
func (c *coreController) initialize(table cpufreq.Table, policy cpufreq.Policy) error {
	times, err := c.gov.sampler.Sample(c.cpu)
	if err != nil {
		return fmt.Errorf("failed to read cpu %d times: %w", c.cpu, err)
	}

	c.prevWall = times.Wall
	c.prevIdle = times.Idle
	c.table = table
	c.policy = &policy
	c.enabled = false

	return nil
}

// finalize invalidates the controller once its work is canceled.
func (c *coreController) finalize() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = false
	c.policy = nil
	c.table = nil
}

// timer is the periodic sampling step.
func (c *coreController) timer() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled || c.policy == nil {
		return
	}

	c.check()

	c.gov.scheduler.QueueOn(c.cpu, c.work, c.gov.samplingDelay())
}

// check samples the core load and moves the frequency toward it.
// c.mu must be held.
func (c *coreController) check() {
	if c.policy == nil {
		return
	}

	times, err := c.gov.sampler.Sample(c.cpu)
	if err != nil {
		c.logger.Error(err, "Failed to sample cpu times")
		c.gov.metrics.Skip(c.cpu, metrics.SkipReasonSampler)

		return
	}

	wallTime, idleTime, ok := c.advance(times)
	if !ok {
		c.logger.V(3).Info("Counters went backwards, skipping sample")
		c.gov.metrics.Skip(c.cpu, metrics.SkipReasonCounters)

		return
	}

	load, ok := computeLoad(wallTime, idleTime)
	if !ok {
		// evaluate the load next time
		c.logger.V(3).Info("Idle time above wall time, skipping sample", "wall", wallTime, "idle", idleTime)
		c.gov.metrics.Skip(c.cpu, metrics.SkipReasonCounters)

		return
	}

	c.gov.metrics.Sample(c.cpu, load)

	next, err := nextFrequency(c.table, c.policy, load)
	if err != nil {
		c.logger.Error(err, "Failed to resolve frequency", "load", load)
		c.gov.metrics.Skip(c.cpu, metrics.SkipReasonDriver)

		return
	}

	c.logger.V(2).Info("Sampled", "load", load, "cur", c.policy.Cur, "next", next)

	if next == c.policy.Cur {
		return
	}

	if !c.gov.driver.Online(c.cpu) {
		c.gov.metrics.Skip(c.cpu, metrics.SkipReasonOffline)

		return
	}

	if err := c.gov.driver.Target(c.policy, c.table, next, cpufreq.RoundDown); err != nil {
		c.logger.Error(err, "Failed to set frequency", "freq", next)
		c.gov.metrics.Skip(c.cpu, metrics.SkipReasonDriver)

		return
	}

	c.gov.metrics.Transition(c.cpu, metrics.SourceSample, c.policy.Cur)
}

// advance stores the new counters and returns the deltas since the previous sample.
func (c *coreController) advance(times cpufreq.Times) (wallTime, idleTime uint64, ok bool) {
	prevWall, prevIdle := c.prevWall, c.prevIdle

	c.prevWall = times.Wall
	c.prevIdle = times.Idle

	if times.Wall < prevWall || times.Idle < prevIdle {
		return 0, 0, false
	}

	return times.Wall - prevWall, times.Idle - prevIdle, true
}

// limits applies new policy limits, forcing the frequency back inside them.
func (c *coreController) limits(minFreq, maxFreq uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.policy == nil {
		return fmt.Errorf("cpu %d: %w", c.cpu, ErrNotRunning)
	}

	c.policy.Min = minFreq
	c.policy.Max = maxFreq

	var err error

	switch {
	case maxFreq < c.policy.Cur:
		err = c.gov.driver.Target(c.policy, c.table, maxFreq, cpufreq.RoundUp)
	case minFreq > c.policy.Cur:
		err = c.gov.driver.Target(c.policy, c.table, minFreq, cpufreq.RoundDown)
	default:
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to apply limits on cpu %d: %w", c.cpu, err)
	}

	c.logger.V(1).Info("Frequency forced by limits", "min", minFreq, "max", maxFreq, "cur", c.policy.Cur)
	c.gov.metrics.Transition(c.cpu, metrics.SourceLimits, c.policy.Cur)

	return nil
}

func (c *coreController) snapshot() (cpufreq.Policy, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.policy == nil {
		return cpufreq.Policy{}, false
	}

	return *c.policy, true
}

// computeLoad returns the busy percentage of an interval. An interval that
// was idle entirely counts as 1%. It returns false when idle exceeds wall,
// which happens when the counters are read non-atomically.
func computeLoad(wallTime, idleTime uint64) (int, bool) {
	switch {
	case wallTime < idleTime:
		return 0, false
	case wallTime == idleTime:
		return 1, true
	}

	return int(100 * (wallTime - idleTime) / wallTime), true
}

// scaleFrequency maps load linearly onto the policy limits.
// max/100 is truncated before the multiplication.
func scaleFrequency(load int, policy *cpufreq.Policy) uint {
	return policy.Clamp(uint(load) * (policy.Max / 100))
}

// nextFrequency picks the table entry for load. The rounded-up entry is kept
// only when the core already runs at it, otherwise the rounded-down entry is
// used, so the frequency does not bounce up and back down.
func nextFrequency(table cpufreq.Table, policy *cpufreq.Policy, load int) (uint, error) {
	target := scaleFrequency(load, policy)

	freq, err := table.Target(policy.Min, policy.Max, target, cpufreq.RoundUp)
	if err != nil {
		return 0, err
	}

	if freq == policy.Cur {
		return freq, nil
	}

	return table.Target(policy.Min, policy.Max, target, cpufreq.RoundDown)
}
