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
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultSamplingRate is the sampling period in microseconds used at startup.
	DefaultSamplingRate uint32 = 60000
	// MinSamplingRate is the lowest accepted sampling period in microseconds.
	MinSamplingRate uint32 = 10000
)

// Tunables are the settings shared by every core of the governor.
type Tunables struct {
	samplingRate atomic.Uint32
}

// NewTunables returns tunables with the given sampling rate, floored at MinSamplingRate.
func NewTunables(samplingRate uint32) *Tunables {
	t := &Tunables{}
	t.samplingRate.Store(max(samplingRate, MinSamplingRate))

	return t
}

// SamplingRate returns the sampling period in microseconds.
func (t *Tunables) SamplingRate() uint32 {
	return t.samplingRate.Load()
}

// SamplingPeriod returns the sampling period as a duration.
func (t *Tunables) SamplingPeriod() time.Duration {
	return time.Duration(t.SamplingRate()) * time.Microsecond
}

// swap stores rate and reports whether it differs from the previous value.
func (t *Tunables) swap(rate uint32) bool {
	return t.samplingRate.Swap(rate) != rate
}

// ParseSamplingRate parses a decimal number of microseconds.
// Values below MinSamplingRate, negative ones included, are raised to it.
func ParseSamplingRate(s string) (uint32, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidInput, "sampling rate %q", strings.TrimSpace(s))
	}

	if n > math.MaxUint32 {
		return 0, errors.Wrapf(ErrInvalidInput, "sampling rate %d is out of range", n)
	}

	if n < int64(MinSamplingRate) {
		return MinSamplingRate, nil
	}

	return uint32(n), nil
}
