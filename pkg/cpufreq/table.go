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

package cpufreq

import (
	"slices"

	"github.com/samber/lo"
)

// Table is the ordered set of frequencies (kHz) a core supports, lowest first.
type Table []uint

// NewTable builds a sorted table without duplicates and zero entries.
func NewTable(freqs []uint) (Table, error) {
	t := lo.Uniq(lo.Filter(freqs, func(f uint, _ int) bool { return f > 0 }))
	if len(t) == 0 {
		return nil, ErrEmptyTable
	}

	slices.Sort(t)

	return Table(t), nil
}

// Lowest returns the smallest frequency of the table.
func (t Table) Lowest() uint {
	if len(t) == 0 {
		return 0
	}

	return t[0]
}

// Highest returns the largest frequency of the table.
func (t Table) Highest() uint {
	if len(t) == 0 {
		return 0
	}

	return t[len(t)-1]
}

// Contains reports whether freq is a supported frequency.
func (t Table) Contains(freq uint) bool {
	_, found := slices.BinarySearch(t, freq)

	return found
}

// Target resolves target to a supported frequency inside [minFreq, maxFreq].
//
// RoundUp returns the lowest entry at or above target, or the highest entry
// in limits when none is above. RoundDown returns the highest entry at or
// below target, or the lowest entry in limits when none is below.
func (t Table) Target(minFreq, maxFreq, target uint, relation Relation) (uint, error) {
	var (
		below, above       uint
		hasBelow, hasAbove bool
	)

	for _, f := range t {
		if f < minFreq || f > maxFreq {
			continue
		}

		if f == target {
			return f, nil
		}

		if f < target {
			below, hasBelow = f, true
		} else if !hasAbove {
			above, hasAbove = f, true
		}
	}

	switch {
	case !hasBelow && !hasAbove:
		return 0, ErrNoFrequency
	case relation == RoundDown && hasBelow, relation == RoundUp && !hasAbove:
		return below, nil
	default:
		return above, nil
	}
}
