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

// Package sysattr publishes a group of attributes as files in a directory,
// the way sysfs exposes governor tunables.
package sysattr

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

var (
	// ErrUnknownAttribute is returned for names outside the group.
	ErrUnknownAttribute = errors.New("unknown attribute")
	// ErrReadOnly is returned when storing into a read-only attribute.
	ErrReadOnly = errors.New("attribute is read-only")
	// ErrNotRegistered is returned when the group is not published.
	ErrNotRegistered = errors.New("attribute group is not registered")
)

// Attribute is one file of the group.
type Attribute struct {
	Name string
	// Show renders the current value, newline-terminated.
	Show func() string
	// Store applies a written value. Nil means read-only.
	Store func(value string) error
}

// Watcher notifies about writes under a directory.
type Watcher interface {
	Watch(path string) error
	Unwatch(path string) error
}

// Group is a directory of attribute files.
type Group struct {
	path    string
	watcher Watcher
	logger  logr.Logger

	mu         sync.Mutex
	attrs      map[string]Attribute
	registered bool
}

// NewGroup returns a group published as dir/name. watcher may be nil.
func NewGroup(dir, name string, watcher Watcher, logger logr.Logger) *Group {
	return &Group{
		path:    filepath.Join(dir, name),
		watcher: watcher,
		logger:  logger.WithValues("group", name),
	}
}

// Path returns the group directory.
func (g *Group) Path() string {
	return g.path
}

// Registered reports whether the group is published.
func (g *Group) Registered() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.registered
}

// Register creates the group directory with one file per attribute.
func (g *Group) Register(attrs []Attribute) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.registered {
		return fmt.Errorf("attribute group %s is already registered", g.path)
	}

	if err := os.MkdirAll(g.path, 0o755); err != nil {
		return fmt.Errorf("failed to create attribute group %s: %w", g.path, err)
	}

	set := make(map[string]Attribute, len(attrs))

	for _, attr := range attrs {
		if err := writeAttr(g.path, attr); err != nil {
			_ = os.RemoveAll(g.path)

			return err
		}

		set[attr.Name] = attr
	}

	if g.watcher != nil {
		if err := g.watcher.Watch(g.path); err != nil {
			_ = os.RemoveAll(g.path)

			return fmt.Errorf("failed to watch attribute group %s: %w", g.path, err)
		}
	}

	g.attrs = set
	g.registered = true

	g.logger.V(1).Info("Attribute group registered", "path", g.path)

	return nil
}

// Unregister stops watching and removes the group directory.
func (g *Group) Unregister() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.registered {
		return nil
	}

	g.registered = false
	g.attrs = nil

	if g.watcher != nil {
		if err := g.watcher.Unwatch(g.path); err != nil {
			g.logger.V(1).Info("Failed to unwatch attribute group", "error", err.Error())
		}
	}

	if err := os.RemoveAll(g.path); err != nil {
		return fmt.Errorf("failed to remove attribute group %s: %w", g.path, err)
	}

	g.logger.V(1).Info("Attribute group unregistered", "path", g.path)

	return nil
}

// Show returns the rendered value of an attribute.
func (g *Group) Show(name string) (string, error) {
	attr, err := g.lookup(name)
	if err != nil {
		return "", err
	}

	return attr.Show(), nil
}

// Store applies value to an attribute and refreshes its file.
func (g *Group) Store(name, value string) error {
	attr, err := g.lookup(name)
	if err != nil {
		return err
	}

	if attr.Store == nil {
		return fmt.Errorf("%s: %w", name, ErrReadOnly)
	}

	storeErr := attr.Store(value)

	if err := g.sync(attr); err != nil {
		return err
	}

	return storeErr
}

// Handle reacts to a change of file. Content that differs from the attribute
// value is stored, or reverted for read-only attributes and rejected input.
func (g *Group) Handle(file string) error {
	if filepath.Dir(file) != g.path {
		return nil
	}

	attr, err := g.lookup(filepath.Base(file))
	if err != nil {
		if errors.Is(err, ErrUnknownAttribute) {
			return nil
		}

		return err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			return g.sync(attr)
		}

		return fmt.Errorf("failed to read attribute %s: %w", file, err)
	}

	content := string(data)
	if content == attr.Show() {
		return nil
	}

	if attr.Store == nil {
		g.logger.Info("Reverting write to read-only attribute", "attribute", attr.Name)

		return g.sync(attr)
	}

	// Editors and shells may leave the file empty between truncate and write.
	if strings.TrimSpace(content) == "" {
		return nil
	}

	g.logger.V(1).Info("Attribute written", "attribute", attr.Name, "value", strings.TrimSpace(content))

	return g.Store(attr.Name, content)
}

func (g *Group) lookup(name string) (Attribute, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.registered {
		return Attribute{}, ErrNotRegistered
	}

	attr, ok := g.attrs[name]
	if !ok {
		return Attribute{}, fmt.Errorf("%s: %w", name, ErrUnknownAttribute)
	}

	return attr, nil
}

// sync rewrites the file of attr when its content is stale.
func (g *Group) sync(attr Attribute) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.registered {
		return nil
	}

	name := filepath.Join(g.path, attr.Name)

	data, err := os.ReadFile(name)
	if err == nil && string(data) == attr.Show() {
		return nil
	}

	return writeAttr(g.path, attr)
}

func writeAttr(dir string, attr Attribute) error {
	name := filepath.Join(dir, attr.Name)

	mode := os.FileMode(0o644)
	if attr.Store == nil {
		mode = 0o444

		// the mode forbids a plain write for unprivileged users
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to replace attribute %s: %w", name, err)
		}
	}

	if err := os.WriteFile(name, []byte(attr.Show()), mode); err != nil {
		return fmt.Errorf("failed to write attribute %s: %w", name, err)
	}

	return nil
}
