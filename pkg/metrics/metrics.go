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

// Package metrics exposes the governor control loop to prometheus.
package metrics

import (
	"strconv"

	prom "github.com/prometheus/client_golang/prometheus"
)

const (
	promNamespace = "phantom"

	cpuLabel    = "cpu"
	reasonLabel = "reason"
	sourceLabel = "source"
)

// Skip reasons.
const (
	SkipReasonCounters = "counters"
	SkipReasonSampler  = "sampler"
	SkipReasonOffline  = "offline"
	SkipReasonDriver   = "driver"
)

// Transition sources.
const (
	SourceSample = "sample"
	SourceLimits = "limits"
)

// Recorder records governor activity. A nil Recorder is valid and records nothing.
type Recorder struct {
	samples      *prom.CounterVec
	skipped      *prom.CounterVec
	transitions  *prom.CounterVec
	load         *prom.GaugeVec
	frequency    *prom.GaugeVec
	activeCores  prom.Gauge
	samplingRate prom.Gauge
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prom.Registerer) (*Recorder, error) {
	r := &Recorder{
		samples: prom.NewCounterVec(prom.CounterOpts{
			Namespace: promNamespace,
			Name:      "samples_total",
			Help:      "Number of load samples taken per core.",
		}, []string{cpuLabel}),
		skipped: prom.NewCounterVec(prom.CounterOpts{
			Namespace: promNamespace,
			Name:      "samples_skipped_total",
			Help:      "Number of samples that did not lead to a frequency decision.",
		}, []string{cpuLabel, reasonLabel}),
		transitions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: promNamespace,
			Name:      "frequency_transitions_total",
			Help:      "Number of frequency changes requested per core.",
		}, []string{cpuLabel, sourceLabel}),
		load: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: promNamespace,
			Name:      "load_percent",
			Help:      "Load of the core over the last sampling interval.",
		}, []string{cpuLabel}),
		frequency: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: promNamespace,
			Name:      "frequency_khz",
			Help:      "Frequency the core is running at.",
		}, []string{cpuLabel}),
		activeCores: prom.NewGauge(prom.GaugeOpts{
			Namespace: promNamespace,
			Name:      "active_cores",
			Help:      "Number of cores running the governor.",
		}),
		samplingRate: prom.NewGauge(prom.GaugeOpts{
			Namespace: promNamespace,
			Name:      "sampling_rate_microseconds",
			Help:      "Current sampling period.",
		}),
	}

	for _, c := range []prom.Collector{r.samples, r.skipped, r.transitions, r.load, r.frequency, r.activeCores, r.samplingRate} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Sample records a computed load.
func (r *Recorder) Sample(cpu int, load int) {
	if r == nil {
		return
	}

	id := strconv.Itoa(cpu)
	r.samples.WithLabelValues(id).Inc()
	r.load.WithLabelValues(id).Set(float64(load))
}

// Skip records a tick without frequency decision.
func (r *Recorder) Skip(cpu int, reason string) {
	if r == nil {
		return
	}

	r.skipped.WithLabelValues(strconv.Itoa(cpu), reason).Inc()
}

// Transition records a frequency change.
func (r *Recorder) Transition(cpu int, source string, freq uint) {
	if r == nil {
		return
	}

	id := strconv.Itoa(cpu)
	r.transitions.WithLabelValues(id, source).Inc()
	r.frequency.WithLabelValues(id).Set(float64(freq))
}

// Frequency records the running frequency without a transition.
func (r *Recorder) Frequency(cpu int, freq uint) {
	if r == nil {
		return
	}

	r.frequency.WithLabelValues(strconv.Itoa(cpu)).Set(float64(freq))
}

// ActiveCores records the number of governed cores.
func (r *Recorder) ActiveCores(n int) {
	if r == nil {
		return
	}

	r.activeCores.Set(float64(n))
}

// SamplingRate records the sampling period.
func (r *Recorder) SamplingRate(usecs uint32) {
	if r == nil {
		return
	}

	r.samplingRate.Set(float64(usecs))
}

// Forget drops the per-core series of a stopped core.
func (r *Recorder) Forget(cpu int) {
	if r == nil {
		return
	}

	labels := prom.Labels{cpuLabel: strconv.Itoa(cpu)}

	r.samples.DeletePartialMatch(labels)
	r.skipped.DeletePartialMatch(labels)
	r.transitions.DeletePartialMatch(labels)
	r.load.DeletePartialMatch(labels)
	r.frequency.DeletePartialMatch(labels)
}
