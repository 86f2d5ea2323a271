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

package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/sergelogvinov/phantom-governor/pkg/config"
	"github.com/sergelogvinov/phantom-governor/pkg/governor"
	"github.com/sergelogvinov/phantom-governor/pkg/utils/sys"

	"sigs.k8s.io/karpenter/pkg/utils/env"
)

const (
	verbosityEnvVarName = "VERBOSITY"
	verbosityFlagName   = "verbosity"

	configEnvVarName = "CONFIG"
	configFlagName   = "config"

	maxRetriesEnvVarName = "MAX_RETRIES"
	maxRetriesFlagName   = "max-retries"

	samplingRateEnvVarName = "SAMPLING_RATE"
	samplingRateFlagName   = "sampling-rate"

	cpusEnvVarName = "CPUS"
	cpusFlagName   = "cpus"

	maxCPUsEnvVarName = "MAX_CPUS"
	maxCPUsFlagName   = "max-cpus"

	sysfsRootEnvVarName = "SYSFS_ROOT"
	sysfsRootFlagName   = "sysfs-root"

	procfsRootEnvVarName = "PROCFS_ROOT"
	procfsRootFlagName   = "procfs-root"

	attributesDirEnvVarName = "ATTRIBUTES_DIR"
	attributesDirFlagName   = "attributes-dir"

	resyncIntervalEnvVarName = "RESYNC_INTERVAL"
	resyncIntervalFlagName   = "resync-interval"

	pinWorkersEnvVarName = "PIN_WORKERS"
	pinWorkersFlagName   = "pin-workers"

	metricsBindAddressEnvVarName = "METRICS_BIND_ADDRESS"
	metricsBindAddressFlagName   = "metrics-bind-address"
)

var (
	showVersion = pflag.Bool("version", false, "Print the version and exit.")

	verbosity  = pflag.IntP(verbosityFlagName, "v", env.WithDefaultInt(verbosityEnvVarName, 0), "Verbosity level (0=info, 1=debug, 2=trace, -1=errors only)")
	configFile = pflag.String(configFlagName, env.WithDefaultString(configEnvVarName, ""), "Path to the YAML configuration file")
	maxRetries = pflag.Int(maxRetriesFlagName, env.WithDefaultInt(maxRetriesEnvVarName, 5), "Maximum number of retry attempts")

	samplingRate       = pflag.Int(samplingRateFlagName, env.WithDefaultInt(samplingRateEnvVarName, int(governor.DefaultSamplingRate)), "Initial sampling period in microseconds")
	cpus               = pflag.String(cpusFlagName, env.WithDefaultString(cpusEnvVarName, ""), "Cores to govern in cpuset list format, empty for all online cores")
	maxCPUs            = pflag.Int(maxCPUsFlagName, env.WithDefaultInt(maxCPUsEnvVarName, 0), "Core count shown by cpucore_table, 0 for the possible core count")
	sysfsRoot          = pflag.String(sysfsRootFlagName, env.WithDefaultString(sysfsRootEnvVarName, sys.DefaultSysfsRoot), "Path to the sysfs cpu devices")
	procfsRoot         = pflag.String(procfsRootFlagName, env.WithDefaultString(procfsRootEnvVarName, sys.DefaultProcfsRoot), "Path to the procfs mount point")
	attributesDir      = pflag.String(attributesDirFlagName, env.WithDefaultString(attributesDirEnvVarName, config.DefaultAttributesDir), "Directory of the governor attributes")
	resyncInterval     = pflag.Duration(resyncIntervalFlagName, env.WithDefaultDuration(resyncIntervalEnvVarName, config.DefaultResyncInterval), "Resync interval")
	pinWorkers         = pflag.Bool(pinWorkersFlagName, env.WithDefaultBool(pinWorkersEnvVarName, true), "Pin sampling workers to their core")
	metricsBindAddress = pflag.String(metricsBindAddressFlagName, env.WithDefaultString(metricsBindAddressEnvVarName, config.DefaultMetricsBindAddress), "Metrics listen address, empty disables metrics")
)

// explicit reports whether a setting was given on the command line or in the environment.
func explicit(flags *pflag.FlagSet, flagName, envVarName string) bool {
	if flags.Changed(flagName) {
		return true
	}

	_, ok := os.LookupEnv(envVarName)

	return ok
}

// loadConfig reads the configuration file and applies explicit flags and environment variables over it.
func loadConfig(flags *pflag.FlagSet) (config.Config, error) {
	cfg, err := config.LoadFromFile(*configFile, config.Default())
	if err != nil {
		return config.Config{}, err
	}

	if explicit(flags, samplingRateFlagName, samplingRateEnvVarName) {
		rate, err := governor.ParseSamplingRate(strconv.Itoa(*samplingRate))
		if err != nil {
			return config.Config{}, fmt.Errorf("--%s: %w", samplingRateFlagName, err)
		}

		cfg.SamplingRate = rate
	}

	if explicit(flags, cpusFlagName, cpusEnvVarName) {
		cfg.CPUs = *cpus
	}

	if explicit(flags, maxCPUsFlagName, maxCPUsEnvVarName) {
		cfg.MaxCPUs = *maxCPUs
	}

	if explicit(flags, sysfsRootFlagName, sysfsRootEnvVarName) {
		cfg.SysfsRoot = *sysfsRoot
	}

	if explicit(flags, procfsRootFlagName, procfsRootEnvVarName) {
		cfg.ProcfsRoot = *procfsRoot
	}

	if explicit(flags, attributesDirFlagName, attributesDirEnvVarName) {
		cfg.AttributesDir = *attributesDir
	}

	if explicit(flags, resyncIntervalFlagName, resyncIntervalEnvVarName) {
		cfg.ResyncInterval = max(*resyncInterval, time.Duration(0))
	}

	if explicit(flags, pinWorkersFlagName, pinWorkersEnvVarName) {
		cfg.PinWorkers = *pinWorkers
	}

	if explicit(flags, metricsBindAddressFlagName, metricsBindAddressEnvVarName) {
		cfg.MetricsBindAddress = *metricsBindAddress
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	return cfg, nil
}
