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

import "github.com/pkg/errors"

var (
	// ErrNoFrequency is returned when the table has no entry inside the policy limits.
	ErrNoFrequency = errors.New("no frequency available within policy limits")
	// ErrEmptyTable is returned when a frequency table has no entries.
	ErrEmptyTable = errors.New("frequency table is empty")
)
