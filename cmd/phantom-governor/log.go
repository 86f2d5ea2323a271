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
	"github.com/go-logr/logr"
	"go.uber.org/zap/zapcore"

	"github.com/sergelogvinov/phantom-governor/pkg/utils/sys"

	"k8s.io/utils/cpuset"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

func setupLogger(verbosity int) logr.Logger {
	opt := &zap.Options{
		Development:     true,
		Level:           zapcore.Level(-verbosity),
		StacktraceLevel: zapcore.PanicLevel,
		EncoderConfigOptions: []zap.EncoderConfigOption{
			func(ec *zapcore.EncoderConfig) {
				ec.TimeKey = ""  // Disable timestamp
				ec.LevelKey = "" // Disable log level
			},
		},
	}

	return zap.New(zap.UseFlagOptions(opt))
}

func showCPUInfo(logger logr.Logger, sysfs *sys.CPUFreq, cpus cpuset.CPUSet) {
	logger.Info("===== CPU Frequency Information =====")
	defer logger.Info("=====================================")

	if cpus.IsEmpty() {
		logger.Info("No cpu information available")

		return
	}

	for _, cpu := range cpus.List() {
		governor, err := sysfs.Governor(cpu)
		if err != nil {
			logger.Info("CPU", "cpu", cpu, "error", err.Error())

			continue
		}

		policy, err := sysfs.Policy(cpu)
		if err != nil {
			logger.Info("CPU", "cpu", cpu, "governor", governor, "error", err.Error())

			continue
		}

		table, err := sysfs.Table(cpu)
		if err != nil {
			logger.Info("CPU", "cpu", cpu, "governor", governor, "policy", policy, "error", err.Error())

			continue
		}

		logger.Info("CPU", "cpu", cpu, "governor", governor, "policy", policy, "frequencies", table)
	}
}
