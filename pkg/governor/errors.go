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

import "github.com/pkg/errors"

var (
	// ErrInvalidPolicy is returned by Start when the current frequency of the core is unknown.
	ErrInvalidPolicy = errors.New("invalid policy: current frequency is unknown")
	// ErrAttributeRegistration is returned by Start when the attribute group cannot be published.
	ErrAttributeRegistration = errors.New("attribute registration failed")
	// ErrInvalidInput is returned when a tunable value cannot be parsed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidLimits is returned when the minimum limit is above the maximum.
	ErrInvalidLimits = errors.New("invalid limits")
	// ErrNotRunning is returned for cores the governor does not run on.
	ErrNotRunning = errors.New("governor is not running on this cpu")
	// ErrAlreadyRunning is returned by Start on a core the governor already runs on.
	ErrAlreadyRunning = errors.New("governor is already running on this cpu")
)
