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

package sysattr

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"k8s.io/klog/v2/ktesting"
)

type watcherMock struct {
	mock.Mock
}

func (w *watcherMock) Watch(path string) error {
	return w.Called(path).Error(0)
}

func (w *watcherMock) Unwatch(path string) error {
	return w.Called(path).Error(0)
}

var errBadValue = errors.New("bad value")

type counter struct {
	value int
}

func (c *counter) attrs() []Attribute {
	return []Attribute{
		{
			Name: "value",
			Show: func() string { return fmt.Sprintf("%d\n", c.value) },
			Store: func(v string) error {
				n, err := strconv.Atoi(strings.TrimSpace(v))
				if err != nil {
					return errBadValue
				}

				c.value = max(n, 10)

				return nil
			},
		},
		{
			Name: "table",
			Show: func() string { return "3 2 1\n" },
		},
	}
}

func newTestGroup(t *testing.T, w Watcher) *Group {
	t.Helper()

	logger, _ := ktesting.NewTestContext(t)

	return NewGroup(t.TempDir(), "phantom", w, logger)
}

func readAttr(t *testing.T, g *Group, name string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(g.Path(), name))
	require.NoError(t, err)

	return string(data)
}

func TestGroupRegister(t *testing.T) {
	w := &watcherMock{}
	g := newTestGroup(t, w)
	w.On("Watch", g.Path()).Return(nil)
	w.On("Unwatch", g.Path()).Return(nil)

	c := &counter{value: 42}

	require.NoError(t, g.Register(c.attrs()))
	assert.True(t, g.Registered())
	assert.Equal(t, "42\n", readAttr(t, g, "value"))
	assert.Equal(t, "3 2 1\n", readAttr(t, g, "table"))

	info, err := os.Stat(filepath.Join(g.Path(), "table"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o444), info.Mode().Perm())

	assert.Error(t, g.Register(c.attrs()))

	require.NoError(t, g.Unregister())
	assert.False(t, g.Registered())
	assert.NoDirExists(t, g.Path())

	require.NoError(t, g.Unregister())

	w.AssertNumberOfCalls(t, "Watch", 1)
	w.AssertNumberOfCalls(t, "Unwatch", 1)
}

func TestGroupRegisterWatchError(t *testing.T) {
	w := &watcherMock{}
	g := newTestGroup(t, w)
	w.On("Watch", g.Path()).Return(errors.New("inotify limit"))

	c := &counter{}

	assert.Error(t, g.Register(c.attrs()))
	assert.False(t, g.Registered())
	assert.NoDirExists(t, g.Path())
}

func TestGroupStore(t *testing.T) {
	g := newTestGroup(t, nil)
	c := &counter{value: 42}

	_, err := g.Show("value")
	assert.ErrorIs(t, err, ErrNotRegistered)

	require.NoError(t, g.Register(c.attrs()))

	require.NoError(t, g.Store("value", "5\n"))
	assert.Equal(t, 10, c.value)
	assert.Equal(t, "10\n", readAttr(t, g, "value"))

	value, err := g.Show("value")
	require.NoError(t, err)
	assert.Equal(t, "10\n", value)

	assert.ErrorIs(t, g.Store("value", "abc"), errBadValue)
	assert.Equal(t, 10, c.value)

	assert.ErrorIs(t, g.Store("table", "1"), ErrReadOnly)
	assert.ErrorIs(t, g.Store("missing", "1"), ErrUnknownAttribute)
}

func TestGroupHandle(t *testing.T) {
	g := newTestGroup(t, nil)
	c := &counter{value: 42}

	require.NoError(t, g.Register(c.attrs()))

	valueFile := filepath.Join(g.Path(), "value")
	tableFile := filepath.Join(g.Path(), "table")

	testCases := []struct {
		name    string
		file    string
		content string
		value   int
		want    string
		err     error
	}{
		{
			name:    "unchanged content",
			file:    valueFile,
			content: "42\n",
			value:   42,
			want:    "42\n",
		},
		{
			name:    "new value",
			file:    valueFile,
			content: "100",
			value:   100,
			want:    "100\n",
		},
		{
			name:    "rejected value is reverted",
			file:    valueFile,
			content: "fast",
			value:   100,
			want:    "100\n",
			err:     errBadValue,
		},
		{
			name:    "truncated file is ignored",
			file:    valueFile,
			content: "",
			value:   100,
			want:    "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(tc.file, []byte(tc.content), 0o644))

			err := g.Handle(tc.file)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
			} else {
				assert.NoError(t, err)
			}

			assert.Equal(t, tc.value, c.value)
			assert.Equal(t, tc.want, readAttr(t, g, filepath.Base(tc.file)))
		})
	}

	require.NoError(t, os.Chmod(tableFile, 0o644))
	require.NoError(t, os.WriteFile(tableFile, []byte("8\n"), 0o644))
	require.NoError(t, g.Handle(tableFile))
	assert.Equal(t, "3 2 1\n", readAttr(t, g, "table"))

	require.NoError(t, os.Remove(tableFile))
	require.NoError(t, g.Handle(tableFile))
	assert.Equal(t, "3 2 1\n", readAttr(t, g, "table"))

	assert.NoError(t, g.Handle(filepath.Join(g.Path(), "unknown")))
	assert.NoError(t, g.Handle("/somewhere/else/value"))
}
