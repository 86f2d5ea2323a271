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

// Package main implements phantomctl, the command-line client of the phantom governor attributes.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	cobra "github.com/spf13/cobra"

	"github.com/sergelogvinov/phantom-governor/pkg/config"

	"sigs.k8s.io/karpenter/pkg/utils/env"
)

var (
	command = "phantomctl"
	version = "v0.0.0"
	commit  = "none"
)

func main() {
	if exitCode := run(os.Args[1:]); exitCode != 0 {
		os.Exit(exitCode)
	}
}

func run(args []string) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := buildRootCmd()
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		errorString := err.Error()
		if strings.Contains(errorString, "arg(s)") || strings.Contains(errorString, "flag") || strings.Contains(errorString, "command") {
			fmt.Fprintf(os.Stderr, "Error: %s\n\n", errorString)
			fmt.Fprintln(os.Stderr, cmd.UsageString())
		} else {
			fmt.Fprintln(os.Stderr, "Execute error:", err)
		}

		return 1
	}

	return 0
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           command,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		Short:         "A command-line utility to inspect and tune the phantom frequency governor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("attributes-dir", "d", env.WithDefaultString("ATTRIBUTES_DIR", config.DefaultAttributesDir), "directory of the governor attributes")

	cmd.AddCommand(buildGetCmd(), buildSetCmd(), buildStatusCmd())

	return cmd
}
