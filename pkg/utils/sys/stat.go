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
	"math"

	"github.com/prometheus/procfs"

	"github.com/sergelogvinov/phantom-governor/pkg/cpufreq"
)

// DefaultProcfsRoot is the procfs mount point.
const DefaultProcfsRoot = procfs.DefaultMountPoint

// CPUStat samples per-core time counters from /proc/stat.
type CPUStat struct {
	fs procfs.FS
}

// NewCPUStat returns a sampler for the procfs mounted at root.
func NewCPUStat(root string) (*CPUStat, error) {
	if root == "" {
		root = DefaultProcfsRoot
	}

	fs, err := procfs.NewFS(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs %s: %w", root, err)
	}

	return &CPUStat{fs: fs}, nil
}

// Sample returns the cumulative wall and idle time of a core in microseconds.
// Iowait counts as idle time.
func (s *CPUStat) Sample(cpu int) (cpufreq.Times, error) {
	stat, err := s.fs.Stat()
	if err != nil {
		return cpufreq.Times{}, fmt.Errorf("failed to read cpu stat: %w", err)
	}

	c, ok := stat.CPU[int64(cpu)]
	if !ok {
		return cpufreq.Times{}, fmt.Errorf("cpu %d is not accounted in stat", cpu)
	}

	idle := c.Idle + c.Iowait
	wall := c.User + c.Nice + c.System + idle + c.IRQ + c.SoftIRQ + c.Steal

	return cpufreq.Times{
		Wall: toMicroseconds(wall),
		Idle: toMicroseconds(idle),
	}, nil
}

func toMicroseconds(seconds float64) uint64 {
	return uint64(math.Round(seconds * 1e6))
}
