// Copyright Pigeonworks LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package template

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk layout. TOML uses [[template]] tables,
// YAML a top-level "templates" list.
type catalogFile struct {
	Templates []Template `toml:"template" yaml:"templates"`
}

// Catalog is a concurrency-safe set of templates.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]Template
	path      string
	logger    *slog.Logger
}

// NewCatalog creates an in-memory catalog.
func NewCatalog(templates ...Template) (*Catalog, error) {
	c := &Catalog{logger: slog.New(slog.DiscardHandler)}
	if err := c.replace(templates); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile reads a catalog from a .toml, .yaml or .yml file.
func LoadFile(path string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Catalog{path: path, logger: logger}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the backing file. On error the previous contents are kept.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return fmt.Errorf("catalog has no backing file")
	}
	templates, err := parseFile(c.path)
	if err != nil {
		return err
	}
	return c.replace(templates)
}

func parseFile(path string) ([]Template, error) {
	// #nosec G304 - path comes from operator configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template catalog: %w", err)
	}

	var file catalogFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&file); err != nil {
			return nil, fmt.Errorf("failed to decode TOML catalog: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to decode YAML catalog: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported catalog format: %s", path)
	}
	return file.Templates, nil
}

func (c *Catalog) replace(templates []Template) error {
	next := make(map[string]Template, len(templates))
	for _, t := range templates {
		if err := t.Validate(); err != nil {
			return err
		}
		if _, dup := next[t.Name]; dup {
			return fmt.Errorf("duplicate template %q", t.Name)
		}
		next[t.Name] = t
	}

	c.mu.Lock()
	c.templates = next
	c.mu.Unlock()
	return nil
}

// Lookup returns the named template.
func (c *Catalog) Lookup(name string) (Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates[name]
	return t, ok
}

// Exists reports whether the named template is defined.
func (c *Catalog) Exists(name string) bool {
	_, ok := c.Lookup(name)
	return ok
}

// List returns all templates sorted by name.
func (c *Catalog) List() []Template {
	c.mu.RLock()
	out := make([]Template, 0, len(c.templates))
	for _, t := range c.templates {
		out = append(out, t)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Watch reloads the catalog whenever its file is written or replaced.
// It blocks until ctx is cancelled. Reload failures are logged and the
// previous templates stay in effect.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.path == "" {
		return fmt.Errorf("catalog has no backing file")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		return fmt.Errorf("failed to watch catalog directory: %w", err)
	}
	target := filepath.Clean(c.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := c.Reload(); err != nil {
				c.logger.Warn("template reload failed", "path", c.path, "error", err)
				continue
			}
			c.logger.Info("template catalog reloaded", "path", c.path, "count", len(c.List()))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("template watcher error", "error", err)
		}
	}
}
