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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	cobra "github.com/spf13/cobra"

	"github.com/sergelogvinov/phantom-governor/pkg/governor"
)

// ErrNotRunning is returned when the attribute group is not published.
var ErrNotRunning = errors.New("phantom governor is not running on any cpu")

type attributesCmd struct {
	dir string
}

func (c *attributesCmd) parseArgs(cmd *cobra.Command, _ []string) error {
	dir, err := cmd.Flags().GetString("attributes-dir")
	if err != nil {
		return err
	}

	c.dir = filepath.Join(dir, governor.Name)

	info, err := os.Stat(c.dir)
	if err != nil || !info.IsDir() {
		return errors.Wrapf(ErrNotRunning, "%s", c.dir)
	}

	return nil
}

func (c *attributesCmd) read(name string) (string, error) {
	if name != filepath.Base(name) {
		return "", fmt.Errorf("invalid attribute name %q", name)
	}

	data, err := os.ReadFile(filepath.Join(c.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("unknown attribute %q", name)
		}

		return "", err
	}

	return strings.TrimSpace(string(data)), nil
}

func (c *attributesCmd) list() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}

	names := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		return e.Name(), e.Type().IsRegular()
	})
	slices.Sort(names)

	return names, nil
}

func buildGetCmd() *cobra.Command {
	c := &attributesCmd{}

	return &cobra.Command{
		Use:           "get attribute",
		Short:         "Print the value of a governor attribute",
		Args:          cobra.ExactArgs(1),
		PreRunE:       c.parseArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := c.read(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), value)

			return nil
		},
	}
}

func buildSetCmd() *cobra.Command {
	c := &attributesCmd{}

	return &cobra.Command{
		Use:           "set attribute value",
		Short:         "Write a governor attribute",
		Args:          cobra.ExactArgs(2),
		PreRunE:       c.parseArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, value := args[0], args[1]

			if name != governor.AttributeSamplingRate {
				return fmt.Errorf("attribute %q is read-only", name)
			}

			rate, err := governor.ParseSamplingRate(value)
			if err != nil {
				return err
			}

			file := filepath.Join(c.dir, name)
			if err := os.WriteFile(file, []byte(fmt.Sprintf("%d\n", rate)), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", file, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s set to %d\n", name, rate)

			return nil
		},
	}
}

func buildStatusCmd() *cobra.Command {
	c := &attributesCmd{}

	cmd := &cobra.Command{
		Use:           "status",
		Short:         "Print every governor attribute",
		Args:          cobra.ExactArgs(0),
		PreRunE:       c.parseArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := c.list()
			if err != nil {
				return err
			}

			values := make(map[string]string, len(names))

			for _, name := range names {
				if values[name], err = c.read(name); err != nil {
					return err
				}
			}

			output, err := cmd.Flags().GetString("output")
			if err != nil {
				return err
			}

			if output == "json" {
				jsonData, err := json.MarshalIndent(values, "", "  ")
				if err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), string(jsonData))

				return nil
			}

			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, values[name])
			}

			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "text", "output format, text or json")

	return cmd
}
