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

// Package config loads the governor daemon configuration file.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/sergelogvinov/phantom-governor/pkg/governor"
	"github.com/sergelogvinov/phantom-governor/pkg/utils/sys"

	"k8s.io/utils/cpuset"
)

const (
	// DefaultAttributesDir is the directory the attribute group is published in.
	DefaultAttributesDir = "/run/phantom-governor"
	// DefaultResyncInterval is the period of the cpu resync.
	DefaultResyncInterval = 5 * time.Second
	// DefaultMetricsBindAddress is the listen address of the metrics endpoint.
	DefaultMetricsBindAddress = ":8080"
)

// ErrInvalidConfig is returned for configurations that fail validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the daemon configuration.
type Config struct {
	// SamplingRate is the initial sampling period in microseconds.
	SamplingRate uint32 `yaml:"samplingRate,omitempty"`
	// CPUs limits the governed cores, in cpuset list format. Empty means every online core.
	CPUs string `yaml:"cpus,omitempty"`
	// MaxCPUs is shown by the cpucore_table attribute. Zero means the possible core count.
	MaxCPUs int `yaml:"maxCPUs,omitempty"`

	SysfsRoot     string `yaml:"sysfsRoot,omitempty"`
	ProcfsRoot    string `yaml:"procfsRoot,omitempty"`
	AttributesDir string `yaml:"attributesDir,omitempty"`

	ResyncInterval time.Duration `yaml:"resyncInterval,omitempty"`
	// PinWorkers pins the sampling workers to their core.
	PinWorkers bool `yaml:"pinWorkers"`

	// MetricsBindAddress is the metrics listen address, empty disables the endpoint.
	MetricsBindAddress string `yaml:"metricsBindAddress"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		SamplingRate:       governor.DefaultSamplingRate,
		SysfsRoot:          sys.DefaultSysfsRoot,
		ProcfsRoot:         sys.DefaultProcfsRoot,
		AttributesDir:      DefaultAttributesDir,
		ResyncInterval:     DefaultResyncInterval,
		PinWorkers:         true,
		MetricsBindAddress: DefaultMetricsBindAddress,
	}
}

// LoadFromFile reads name over base. An empty name returns base unchanged.
func LoadFromFile(name string, base Config) (Config, error) {
	if name == "" {
		return base, nil
	}

	data, err := os.ReadFile(name)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", name, err)
	}

	cfg := base

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to unmarshal config file %s: %w", name, err)
	}

	return cfg, nil
}

// Validate checks the configuration and floors the sampling rate.
func (c *Config) Validate() error {
	c.SamplingRate = max(c.SamplingRate, governor.MinSamplingRate)

	if _, err := c.CPUSet(); err != nil {
		return err
	}

	if c.MaxCPUs < 0 {
		return errors.Wrapf(ErrInvalidConfig, "maxCPUs %d is negative", c.MaxCPUs)
	}

	if c.ResyncInterval <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "resyncInterval %s must be positive", c.ResyncInterval)
	}

	if c.AttributesDir == "" {
		return errors.Wrap(ErrInvalidConfig, "attributesDir is empty")
	}

	return nil
}

// CPUSet returns the cores selected by CPUs. An empty set selects every core.
func (c *Config) CPUSet() (cpuset.CPUSet, error) {
	cpus, err := cpuset.Parse(strings.TrimSpace(c.CPUs))
	if err != nil {
		return cpuset.New(), errors.Wrapf(ErrInvalidConfig, "cpus %q: %v", c.CPUs, err)
	}

	return cpus, nil
}
