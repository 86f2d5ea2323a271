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

package sys

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/sergelogvinov/phantom-governor/pkg/cpufreq"

	"k8s.io/utils/cpuset"
)

const (
	// DefaultSysfsRoot is the sysfs directory of the cpu devices.
	DefaultSysfsRoot = "/sys/devices/system/cpu"

	// UserspaceGovernor lets userspace set the frequency through scaling_setspeed.
	UserspaceGovernor = "userspace"

	// tableStep is the step of a table synthesized from the cpuinfo limits, in kHz.
	tableStep = 100000
)

var (
	// ErrGovernorUnavailable is returned when the kernel does not offer a scaling governor.
	ErrGovernorUnavailable = errors.New("cpu governor is not available")
	// ErrNoCPUFreq is returned for cores without a cpufreq policy.
	ErrNoCPUFreq = errors.New("cpufreq is not available")
)

// CPUFreq reads and writes the cpufreq sysfs interface.
type CPUFreq struct {
	root string
}

// NewCPUFreq returns a driver for the sysfs tree at root.
func NewCPUFreq(root string) *CPUFreq {
	if root == "" {
		root = DefaultSysfsRoot
	}

	return &CPUFreq{root: root}
}

// OnlineCPUs returns the cores the kernel reports online.
func (c *CPUFreq) OnlineCPUs() (cpuset.CPUSet, error) {
	return c.readCPUSet("online")
}

// PossibleCPUs returns the cores the kernel can bring online.
func (c *CPUFreq) PossibleCPUs() (cpuset.CPUSet, error) {
	return c.readCPUSet("possible")
}

// Online reports whether a core is online.
// Cores without an online file, usually cpu0, are online when they exist.
func (c *CPUFreq) Online(cpu int) bool {
	data, err := os.ReadFile(c.path(cpu, "online"))
	if err != nil {
		if !os.IsNotExist(err) {
			return false
		}

		_, err = os.Stat(c.path(cpu))

		return err == nil
	}

	return strings.TrimSpace(string(data)) == "1"
}

// Table returns the frequencies a core supports in kHz.
// Drivers without a frequency list get a table in 100 MHz steps between the cpuinfo limits.
func (c *CPUFreq) Table(cpu int) (cpufreq.Table, error) {
	data, err := os.ReadFile(c.path(cpu, "cpufreq", "scaling_available_frequencies"))
	if err == nil {
		var freqs []uint

		for field := range strings.FieldsSeq(string(data)) {
			f, err := strconv.ParseUint(field, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cpu %d: invalid frequency %q: %w", cpu, field, err)
			}

			freqs = append(freqs, uint(f))
		}

		return cpufreq.NewTable(freqs)
	}

	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read frequencies of cpu %d: %w", cpu, err)
	}

	minFreq, err := c.readFreq(cpu, "cpuinfo_min_freq")
	if err != nil {
		return nil, err
	}

	maxFreq, err := c.readFreq(cpu, "cpuinfo_max_freq")
	if err != nil {
		return nil, err
	}

	freqs := []uint{maxFreq}
	for f := minFreq; f < maxFreq; f += tableStep {
		freqs = append(freqs, f)
	}

	return cpufreq.NewTable(freqs)
}

// Policy returns the limits and the running frequency of a core.
func (c *CPUFreq) Policy(cpu int) (cpufreq.Policy, error) {
	policy := cpufreq.Policy{CPU: cpu}

	var err error

	if policy.Min, err = c.readFreq(cpu, "scaling_min_freq"); err != nil {
		return cpufreq.Policy{}, err
	}

	if policy.Max, err = c.readFreq(cpu, "scaling_max_freq"); err != nil {
		return cpufreq.Policy{}, err
	}

	if policy.Cur, err = c.readFreq(cpu, "scaling_cur_freq"); err != nil {
		return cpufreq.Policy{}, err
	}

	return policy, nil
}

// Governor returns the scaling governor of a core.
func (c *CPUFreq) Governor(cpu int) (string, error) {
	data, err := os.ReadFile(c.path(cpu, "cpufreq", "scaling_governor"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("cpu %d: %w", cpu, ErrNoCPUFreq)
		}

		return "", fmt.Errorf("failed to read governor of cpu %d: %w", cpu, err)
	}

	return strings.TrimSpace(string(data)), nil
}

// SetGovernor switches the scaling governor of a core.
func (c *CPUFreq) SetGovernor(cpu int, governor string) error {
	current, err := c.Governor(cpu)
	if err != nil {
		return err
	}

	if current == governor {
		return nil
	}

	if !c.governorAvailable(cpu, governor) {
		return fmt.Errorf("cpu %d: %s: %w", cpu, governor, ErrGovernorUnavailable)
	}

	if err := os.WriteFile(c.path(cpu, "cpufreq", "scaling_governor"), []byte(governor+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to set governor of cpu %d: %w", cpu, err)
	}

	return nil
}

// Target resolves freq through table with relation and writes it to scaling_setspeed.
// The userspace governor must be active on the core.
func (c *CPUFreq) Target(policy *cpufreq.Policy, table cpufreq.Table, freq uint, relation cpufreq.Relation) error {
	next, err := table.Target(policy.Min, policy.Max, policy.Clamp(freq), relation)
	if err != nil {
		return fmt.Errorf("cpu %d: %w", policy.CPU, err)
	}

	if next == policy.Cur {
		return nil
	}

	data := strconv.FormatUint(uint64(next), 10) + "\n"
	if err := os.WriteFile(c.path(policy.CPU, "cpufreq", "scaling_setspeed"), []byte(data), 0o644); err != nil {
		return fmt.Errorf("failed to set frequency of cpu %d: %w", policy.CPU, err)
	}

	policy.Cur = next

	return nil
}

func (c *CPUFreq) governorAvailable(cpu int, governor string) bool {
	data, err := os.ReadFile(c.path(cpu, "cpufreq", "scaling_available_governors"))
	if err != nil {
		return false
	}

	for available := range strings.FieldsSeq(string(data)) {
		if available == governor {
			return true
		}
	}

	return false
}

func (c *CPUFreq) readFreq(cpu int, name string) (uint, error) {
	data, err := os.ReadFile(c.path(cpu, "cpufreq", name))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("cpu %d: %s: %w", cpu, name, ErrNoCPUFreq)
		}

		return 0, fmt.Errorf("failed to read %s of cpu %d: %w", name, cpu, err)
	}

	f, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cpu %d: invalid %s: %w", cpu, name, err)
	}

	return uint(f), nil
}

func (c *CPUFreq) readCPUSet(name string) (cpuset.CPUSet, error) {
	data, err := os.ReadFile(filepath.Join(c.root, name))
	if err != nil {
		return cpuset.New(), fmt.Errorf("failed to read %s cpus: %w", name, err)
	}

	cpus, err := cpuset.Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return cpuset.New(), fmt.Errorf("failed to parse %s cpus: %w", name, err)
	}

	return cpus, nil
}

func (c *CPUFreq) path(cpu int, elem ...string) string {
	return filepath.Join(append([]string{c.root, fmt.Sprintf("cpu%d", cpu)}, elem...)...)
}
