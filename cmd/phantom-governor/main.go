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
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"

	"github.com/sergelogvinov/phantom-governor/pkg/config"
	"github.com/sergelogvinov/phantom-governor/pkg/governor"
	"github.com/sergelogvinov/phantom-governor/pkg/metrics"
	"github.com/sergelogvinov/phantom-governor/pkg/utils/reconciler"
	"github.com/sergelogvinov/phantom-governor/pkg/utils/sys"
	"github.com/sergelogvinov/phantom-governor/pkg/utils/sysattr"
	"github.com/sergelogvinov/phantom-governor/pkg/workqueue"
)

// Version of the phantom-governor
var Version = "edge"

func main() {
	pflag.Parse()

	logger := setupLogger(*verbosity)
	logger.Info("Phantom frequency governor", "version", Version, "verbosity", *verbosity)

	if *showVersion {
		os.Exit(0)
	}

	cfg, err := loadConfig(pflag.CommandLine)
	if err != nil {
		logger.Error(err, "Failed to load configuration")
		os.Exit(1)
	}

	logger.Info("Configuration loaded", "config", cfg)

	if err := run(cfg, logger); err != nil {
		logger.Error(err, "Governor encountered an error")
		os.Exit(1)
	}
}

func run(cfg config.Config, logger logr.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sysfs := sys.NewCPUFreq(cfg.SysfsRoot)

	stat, err := sys.NewCPUStat(cfg.ProcfsRoot)
	if err != nil {
		return err
	}

	cpus, err := cfg.CPUSet()
	if err != nil {
		return err
	}

	maxCPUs := cfg.MaxCPUs
	if maxCPUs == 0 {
		maxCPUs = runtime.NumCPU()
		if possible, err := sysfs.PossibleCPUs(); err == nil {
			maxCPUs = possible.Size()
		}
	}

	if online, err := sysfs.OnlineCPUs(); err == nil {
		showCPUInfo(logger, sysfs, online)
	}

	reg := newRegistry()

	recorder, err := metrics.NewRecorder(reg)
	if err != nil {
		return err
	}

	queue := workqueue.New(
		workqueue.WithAffinity(cfg.PinWorkers),
		workqueue.WithLogger(logger.WithName("workqueue")),
	)
	defer queue.Close()

	// the handler needs the attribute group, which watches through the reconciler
	var handler *GovernorHandler

	rconfig := reconciler.DefaultConfig(logger.WithName("reconciler"))
	rconfig.MaxRetries = *maxRetries
	rconfig.SyncDelay = cfg.ResyncInterval

	rec, err := reconciler.NewReconciler(ctx, rconfig, reconciler.HandlerFunc(
		func(ctx context.Context, sender reconciler.EventSender, event reconciler.Event) error {
			return handler.Reconcile(ctx, sender, event)
		}),
	)
	if err != nil {
		logger.Error(err, "Failed to create reconciler")

		return err
	}

	group := sysattr.NewGroup(cfg.AttributesDir, governor.Name, rec, logger.WithName("attributes"))

	gov, err := governor.New(governor.Config{
		Sampler:    stat,
		Driver:     sysfs,
		Tables:     sysfs,
		Scheduler:  queue,
		Attributes: group,
		Tunables:   governor.NewTunables(cfg.SamplingRate),
		Metrics:    recorder,
		MaxCPUs:    maxCPUs,
		Logger:     logger.WithName(governor.Name),
	})
	if err != nil {
		return err
	}

	handler = NewHandler(sysfs, gov, group, cpus, logger.WithName("handler"))

	if cfg.MetricsBindAddress != "" {
		go serveMetrics(ctx, cfg.MetricsBindAddress, reg, logger.WithName("metrics"))
	}

	if err := rec.Start(); err != nil {
		logger.Error(err, "Failed to start reconciler")

		return err
	}

	logger.Info("Governor started successfully", "samplingRate", cfg.SamplingRate, "cpus", cfg.CPUs)

	select {
	case sig := <-sigCh:
		logger.Info("Received signal, shutting down gracefully", "signal", sig)
	case <-ctx.Done():
		logger.Info("Context canceled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	var errs error

	done := make(chan struct{})
	go func() {
		defer close(done)

		rec.Stop()

		errs = multierr.Combine(handler.Shutdown(), gov.Shutdown())
	}()

	select {
	case <-done:
		logger.Info("Governor stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Info("Shutdown timeout exceeded, forcing exit")

		return shutdownCtx.Err()
	}

	return errs
}
