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

package main

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/sergelogvinov/phantom-governor/pkg/cpufreq"
	"github.com/sergelogvinov/phantom-governor/pkg/governor"
	"github.com/sergelogvinov/phantom-governor/pkg/utils/reconciler"
	"github.com/sergelogvinov/phantom-governor/pkg/utils/sys"
	"github.com/sergelogvinov/phantom-governor/pkg/utils/sysattr"

	"k8s.io/utils/cpuset"
)

// CPUFreq is the sysfs view of the cores.
type CPUFreq interface {
	OnlineCPUs() (cpuset.CPUSet, error)
	Policy(cpu int) (cpufreq.Policy, error)
	Governor(cpu int) (string, error)
	SetGovernor(cpu int, governor string) error
}

// Lifecycle receives the core lifecycle events.
type Lifecycle interface {
	Start(policy cpufreq.Policy) error
	Stop(cpu int) error
	Limits(cpu int, minFreq, maxFreq uint) error
	Policy(cpu int) (cpufreq.Policy, error)
	Running() []int
}

// FileHandler reacts to writes under the attribute directory.
type FileHandler interface {
	Handle(file string) error
}

// GovernorHandler keeps the governed cores in sync with the online cores.
// It runs on the reconciler goroutine only.
type GovernorHandler struct {
	sysfs  CPUFreq
	gov    Lifecycle
	files  FileHandler
	cpus   cpuset.CPUSet
	logger logr.Logger

	// governors holds the scaling governor a core ran before it was taken over.
	governors map[int]string
}

// NewHandler returns a handler governing cpus, or every online core when cpus is empty.
func NewHandler(sysfs CPUFreq, gov Lifecycle, files FileHandler, cpus cpuset.CPUSet, logger logr.Logger) *GovernorHandler {
	return &GovernorHandler{
		sysfs:     sysfs,
		gov:       gov,
		files:     files,
		cpus:      cpus,
		logger:    logger,
		governors: map[int]string{},
	}
}

func (h *GovernorHandler) Reconcile(_ context.Context, _ reconciler.EventSender, event reconciler.Event) error {
	h.logger.V(3).Info("Processing event", "type", event.Type, "key", event.Key)

	switch event.Type {
	case reconciler.TimerEvent:
		return h.resync()
	case reconciler.FileEvent:
		err := h.files.Handle(event.Key)
		if err == nil || errors.Is(err, sysattr.ErrNotRegistered) {
			return nil
		}

		// rejected input is reverted, a retry would not change it
		if errors.Is(err, sysattr.ErrReadOnly) || errors.Is(err, governor.ErrInvalidInput) {
			h.logger.Error(err, "Attribute write rejected", "file", event.Key)

			return nil
		}

		return err
	}

	return nil
}

// resync starts new cores, stops the ones that went away and forwards limit changes.
func (h *GovernorHandler) resync() error {
	online, err := h.sysfs.OnlineCPUs()
	if err != nil {
		return err
	}

	wanted := online
	if !h.cpus.IsEmpty() {
		wanted = online.Intersection(h.cpus)
	}

	running := cpuset.New(h.gov.Running()...)

	var errs error

	for _, cpu := range running.Difference(wanted).List() {
		errs = multierr.Append(errs, h.stop(cpu))
	}

	for _, cpu := range wanted.Difference(running).List() {
		errs = multierr.Append(errs, h.start(cpu))
	}

	for _, cpu := range running.Intersection(wanted).List() {
		errs = multierr.Append(errs, h.update(cpu))
	}

	return errs
}

func (h *GovernorHandler) start(cpu int) error {
	previous, err := h.sysfs.Governor(cpu)
	if err != nil {
		return err
	}

	if previous != sys.UserspaceGovernor {
		if _, ok := h.governors[cpu]; !ok {
			h.governors[cpu] = previous
		}

		if err := h.sysfs.SetGovernor(cpu, sys.UserspaceGovernor); err != nil {
			return err
		}
	}

	policy, err := h.sysfs.Policy(cpu)
	if err != nil {
		return multierr.Append(err, h.restore(cpu))
	}

	if err := h.gov.Start(policy); err != nil {
		return multierr.Append(fmt.Errorf("failed to start governor on cpu %d: %w", cpu, err), h.restore(cpu))
	}

	h.logger.Info("Governing cpu", "cpu", cpu, "previousGovernor", h.governors[cpu])

	return nil
}

func (h *GovernorHandler) stop(cpu int) error {
	err := h.gov.Stop(cpu)

	h.logger.Info("Released cpu", "cpu", cpu)

	return multierr.Append(err, h.restore(cpu))
}

// update forwards limit changes, and releases cores whose governor was switched by someone else.
func (h *GovernorHandler) update(cpu int) error {
	active, err := h.sysfs.Governor(cpu)
	if err != nil {
		return err
	}

	if active != sys.UserspaceGovernor {
		h.logger.Info("Scaling governor changed externally, releasing cpu", "cpu", cpu, "governor", active)
		delete(h.governors, cpu)

		return h.gov.Stop(cpu)
	}

	current, err := h.gov.Policy(cpu)
	if err != nil {
		return err
	}

	policy, err := h.sysfs.Policy(cpu)
	if err != nil {
		return err
	}

	if policy.Min == current.Min && policy.Max == current.Max {
		return nil
	}

	h.logger.V(1).Info("Policy limits changed", "cpu", cpu, "min", policy.Min, "max", policy.Max)

	return h.gov.Limits(cpu, policy.Min, policy.Max)
}

// restore switches cpu back to the governor it had before.
func (h *GovernorHandler) restore(cpu int) error {
	previous, ok := h.governors[cpu]
	if !ok {
		return nil
	}

	delete(h.governors, cpu)

	if err := h.sysfs.SetGovernor(cpu, previous); err != nil {
		if errors.Is(err, sys.ErrNoCPUFreq) {
			return nil
		}

		return fmt.Errorf("failed to restore governor %s on cpu %d: %w", previous, cpu, err)
	}

	return nil
}

// Shutdown releases every governed core.
func (h *GovernorHandler) Shutdown() error {
	var errs error

	for _, cpu := range h.gov.Running() {
		errs = multierr.Append(errs, h.stop(cpu))
	}

	return errs
}
