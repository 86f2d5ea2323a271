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

// Package cpufreq holds the types shared by the governor and the cpufreq drivers.
package cpufreq

import "fmt"

// Relation selects how a target frequency is matched against the frequency table.
type Relation int

const (
	// RoundUp picks the lowest supported frequency at or above the target.
	RoundUp Relation = iota
	// RoundDown picks the highest supported frequency at or below the target.
	RoundDown
)

func (r Relation) String() string {
	switch r {
	case RoundUp:
		return "round-up"
	case RoundDown:
		return "round-down"
	}

	return fmt.Sprintf("relation(%d)", int(r))
}

// Policy is the frequency policy of one core, all values in kHz.
type Policy struct {
	// CPU is the core the policy belongs to.
	CPU int `json:"cpu"`
	// Min is the lower frequency limit.
	Min uint `json:"min"`
	// Max is the upper frequency limit.
	Max uint `json:"max"`
	// Cur is the frequency the core is running at.
	Cur uint `json:"cur"`
}

// Clamp returns freq bounded by the policy limits.
func (p *Policy) Clamp(freq uint) uint {
	return max(min(freq, p.Max), p.Min)
}

// Times are cumulative counters of a core since boot, in microseconds.
type Times struct {
	// Wall is the total time accounted to the core.
	Wall uint64
	// Idle is the idle time including iowait.
	Idle uint64
}
