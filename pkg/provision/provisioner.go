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

// Package provision creates and destroys the isolated environments that
// back dungeon instances. An environment is a private copy of a template
// world directory, claimed by an atomic lock file.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pigeonworks-llc/go-dungeon/pkg/instance"
)

var (
	// ErrEnvironmentNotFound is returned by Resolve when an environment is gone.
	ErrEnvironmentNotFound = errors.New("environment not found")
	// ErrInvalidName is returned for environment names that would escape
	// the worlds directory.
	ErrInvalidName = errors.New("invalid environment name")
)

// Config holds the directories used by the provisioner.
type Config struct {
	// TemplatesDir holds one source world directory per template.
	TemplatesDir string
	// WorldsDir receives one directory per live environment.
	WorldsDir string
	// LockDir holds env-<name>.lock files.
	LockDir string
}

// Provisioner is a directory-backed environment provisioner.
type Provisioner struct {
	config *Config
	logger *slog.Logger
}

// New creates a provisioner, creating its directories.
func New(config *Config, logger *slog.Logger) (*Provisioner, error) {
	if config == nil || config.TemplatesDir == "" || config.WorldsDir == "" || config.LockDir == "" {
		return nil, fmt.Errorf("provisioner requires templates, worlds and lock directories")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	for _, dir := range []string{config.WorldsDir, config.LockDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &Provisioner{config: config, logger: logger}, nil
}

// EnvironmentName is the environment name derived from an instance ID.
func EnvironmentName(instanceID string) string {
	return "dungeon-" + instanceID
}

// checkName rejects names that are not a single path element.
func checkName(name string) error {
	if name == "" || name == "." || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// worldPath is the directory of the named environment. Paths recorded
// elsewhere are never trusted.
func (p *Provisioner) worldPath(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	return filepath.Join(p.config.WorldsDir, name), nil
}

// Provision copies the template world into a fresh environment.
func (p *Provisioner) Provision(ctx context.Context, worldName, instanceID string) (instance.Environment, error) {
	if err := checkName(worldName); err != nil {
		return instance.Environment{}, err
	}
	name := EnvironmentName(instanceID)
	dst, err := p.worldPath(name)
	if err != nil {
		return instance.Environment{}, err
	}
	src := filepath.Join(p.config.TemplatesDir, worldName)

	info, err := os.Stat(src)
	if err != nil {
		return instance.Environment{}, fmt.Errorf("template world %s: %w", worldName, err)
	}
	if !info.IsDir() {
		return instance.Environment{}, fmt.Errorf("template world %s is not a directory", worldName)
	}

	if _, err := p.createLock(name, worldName, instanceID); err != nil {
		return instance.Environment{}, err
	}

	if fileExists(dst) {
		_ = p.releaseLock(name)
		return instance.Environment{}, fmt.Errorf("environment directory already exists: %s", dst)
	}

	if err := copyDir(ctx, src, dst); err != nil {
		_ = os.RemoveAll(dst)
		_ = p.releaseLock(name)
		return instance.Environment{}, fmt.Errorf("failed to copy world: %w", err)
	}

	p.logger.Debug("environment provisioned", "name", name, "world", worldName, "path", dst)
	return instance.Environment{Name: name, Path: dst}, nil
}

// Teardown removes all resources associated with the environment. It is
// safe to call on an environment that is already gone.
func (p *Provisioner) Teardown(ctx context.Context, env instance.Environment) error {
	path, err := p.worldPath(env.Name)
	if err != nil {
		return err
	}
	if env.Path != "" && filepath.Clean(env.Path) != path {
		p.logger.Warn("ignoring recorded world path outside the worlds directory",
			"name", env.Name, "recorded", env.Path, "path", path)
	}

	var errs []error
	if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove world dir: %w", err))
	}

	if err := p.releaseLock(env.Name); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("teardown errors: %w", errors.Join(errs...))
	}

	p.logger.Debug("environment torn down", "name", env.Name)
	return nil
}

// Resolve re-attaches to an existing environment by name.
func (p *Provisioner) Resolve(ctx context.Context, name string) (instance.Environment, error) {
	path, err := p.worldPath(name)
	if err != nil {
		return instance.Environment{}, fmt.Errorf("%w: %v", ErrEnvironmentNotFound, err)
	}
	env := instance.Environment{Name: name, Path: path}
	if err := p.Validate(env); err != nil {
		return instance.Environment{}, fmt.Errorf("%w: %v", ErrEnvironmentNotFound, err)
	}
	return env, nil
}

// Exists reports whether the named environment is intact.
func (p *Provisioner) Exists(name string) bool {
	_, err := p.Resolve(context.Background(), name)
	return err == nil
}

// Validate checks that the environment's lock and directory both exist.
func (p *Provisioner) Validate(env instance.Environment) error {
	path, err := p.worldPath(env.Name)
	if err != nil {
		return err
	}
	if !p.IsLocked(env.Name) {
		return fmt.Errorf("lock file missing for %s", env.Name)
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("world directory missing: %s", path)
	}
	if err != nil {
		return fmt.Errorf("failed to stat world directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("world path is not a directory: %s", path)
	}
	return nil
}

// copyDir recursively copies src into a new directory dst.
func copyDir(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			// Sockets, symlinks and devices are not part of a world.
			return nil
		}
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	// #nosec G304 - src is inside the configured templates directory
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
