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
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergelogvinov/phantom-governor/pkg/governor"
)

func newAttributesDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	group := filepath.Join(dir, governor.Name)

	require.NoError(t, os.MkdirAll(group, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(group, governor.AttributeSamplingRate), []byte("60000\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(group, governor.AttributeCoreTable), []byte("4 3 2 1 \n"), 0o444))

	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	cmd := buildRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)

	err := cmd.Execute()

	return out.String(), err
}

func TestGet(t *testing.T) {
	t.Parallel()

	dir := newAttributesDir(t)

	testCases := []struct {
		msg      string
		args     []string
		expected string
		err      bool
	}{
		{msg: "sampling rate", args: []string{"get", "sampling_rate", "-d", dir}, expected: "60000\n"},
		{msg: "core table", args: []string{"get", "cpucore_table", "-d", dir}, expected: "4 3 2 1\n"},
		{msg: "unknown", args: []string{"get", "up_threshold", "-d", dir}, err: true},
		{msg: "path escape", args: []string{"get", "../phantom/sampling_rate", "-d", dir}, err: true},
		{msg: "not running", args: []string{"get", "sampling_rate", "-d", t.TempDir()}, err: true},
		{msg: "missing argument", args: []string{"get", "-d", dir}, err: true},
	}

	for _, tt := range testCases {
		t.Run(tt.msg, func(t *testing.T) {
			t.Parallel()

			out, err := execute(t, tt.args...)
			if tt.err {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestSet(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		msg      string
		args     []string
		expected string
		err      error
	}{
		{msg: "plain", args: []string{"sampling_rate", "20000"}, expected: "20000\n"},
		{msg: "floored", args: []string{"sampling_rate", "100"}, expected: "10000\n"},
		{msg: "invalid", args: []string{"sampling_rate", "fast"}, expected: "60000\n", err: governor.ErrInvalidInput},
		{msg: "read-only", args: []string{"cpucore_table", "8"}, expected: "60000\n"},
	}

	for _, tt := range testCases {
		t.Run(tt.msg, func(t *testing.T) {
			t.Parallel()

			dir := newAttributesDir(t)

			_, err := execute(t, append([]string{"set", "-d", dir}, tt.args...)...)

			switch {
			case tt.err != nil:
				assert.ErrorIs(t, err, tt.err)
			case tt.args[0] != governor.AttributeSamplingRate:
				assert.Error(t, err)
			default:
				assert.NoError(t, err)
			}

			data, err := os.ReadFile(filepath.Join(dir, governor.Name, governor.AttributeSamplingRate))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(data))
		})
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	dir := newAttributesDir(t)

	out, err := execute(t, "status", "-d", dir)
	require.NoError(t, err)
	assert.Equal(t, "cpucore_table: 4 3 2 1\nsampling_rate: 60000\n", out)

	out, err = execute(t, "status", "-d", dir, "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"cpucore_table": "4 3 2 1", "sampling_rate": "60000"}`, out)
}

func TestRun(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, run([]string{"status", "-d", t.TempDir()}))
	assert.Equal(t, 0, run([]string{"status", "-d", newAttributesDir(t)}))
}
