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

package metrics_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergelogvinov/phantom-governor/pkg/metrics"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()

	r, err := metrics.NewRecorder(reg)
	require.NoError(t, err)

	r.Sample(1, 42)
	r.Sample(1, 50)
	r.Skip(1, metrics.SkipReasonCounters)
	r.Transition(1, metrics.SourceSample, 600000)
	r.ActiveCores(2)
	r.SamplingRate(60000)

	expected := `
# HELP phantom_active_cores Number of cores running the governor.
# TYPE phantom_active_cores gauge
phantom_active_cores 2
# HELP phantom_frequency_khz Frequency the core is running at.
# TYPE phantom_frequency_khz gauge
phantom_frequency_khz{cpu="1"} 600000
# HELP phantom_load_percent Load of the core over the last sampling interval.
# TYPE phantom_load_percent gauge
phantom_load_percent{cpu="1"} 50
# HELP phantom_samples_total Number of load samples taken per core.
# TYPE phantom_samples_total counter
phantom_samples_total{cpu="1"} 2
# HELP phantom_sampling_rate_microseconds Current sampling period.
# TYPE phantom_sampling_rate_microseconds gauge
phantom_sampling_rate_microseconds 60000
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"phantom_active_cores", "phantom_frequency_khz", "phantom_load_percent",
		"phantom_samples_total", "phantom_sampling_rate_microseconds"))

	skipped, err := testutil.GatherAndCount(reg, "phantom_samples_skipped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)

	r.Forget(1)

	series, err := testutil.GatherAndCount(reg, "phantom_load_percent", "phantom_samples_total")
	require.NoError(t, err)
	assert.Equal(t, 0, series)
}

func TestRecorderNil(t *testing.T) {
	var r *metrics.Recorder

	assert.NotPanics(t, func() {
		r.Sample(0, 1)
		r.Skip(0, metrics.SkipReasonSampler)
		r.Transition(0, metrics.SourceLimits, 1)
		r.Frequency(0, 1)
		r.ActiveCores(1)
		r.SamplingRate(10000)
		r.Forget(0)
	})
}

func TestRecorderDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := metrics.NewRecorder(reg)
	require.NoError(t, err)

	_, err = metrics.NewRecorder(reg)
	assert.Error(t, err)
}
