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

package provision

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LockInfo is the metadata written into an environment lock file.
type LockInfo struct {
	Name      string
	Template  string
	Instance  string
	PID       int
	Token     string
	CreatedAt time.Time
	LockFile  string
}

func (p *Provisioner) lockPath(name string) string {
	return filepath.Join(p.config.LockDir, fmt.Sprintf("env-%s.lock", name))
}

// createLock atomically claims an environment name.
func (p *Provisioner) createLock(name, templateName, instanceID string) (string, error) {
	lockFile := p.lockPath(name)

	// Atomic file creation (fails if exists)
	// #nosec G302 - 0o600 is appropriate for lock files
	f, err := os.OpenFile(lockFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create lock: %w", err)
	}
	defer f.Close()

	metadata := fmt.Sprintf("PID=%d\nTimestamp=%d\nTemplate=%s\nInstance=%s\nToken=%s\n",
		os.Getpid(),
		time.Now().Unix(),
		templateName,
		instanceID,
		uuid.NewString(),
	)
	if _, err := f.WriteString(metadata); err != nil {
		_ = os.Remove(lockFile)
		return "", fmt.Errorf("failed to write lock metadata: %w", err)
	}

	return lockFile, nil
}

// releaseLock removes the lock file.
func (p *Provisioner) releaseLock(name string) error {
	if err := os.Remove(p.lockPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// IsLocked reports whether an environment name is claimed.
func (p *Provisioner) IsLocked(name string) bool {
	return fileExists(p.lockPath(name))
}

// Locks lists every environment lock in the lock directory. Unreadable
// lock files are skipped.
func (p *Provisioner) Locks() ([]LockInfo, error) {
	lockFiles, err := filepath.Glob(filepath.Join(p.config.LockDir, "env-*.lock"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan lock files: %w", err)
	}

	infos := make([]LockInfo, 0, len(lockFiles))
	for _, lockFile := range lockFiles {
		info, err := parseLockFile(lockFile)
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// parseLockFile reads the metadata of a lock file.
func parseLockFile(lockFile string) (LockInfo, error) {
	base := filepath.Base(lockFile)
	if !strings.HasPrefix(base, "env-") || !strings.HasSuffix(base, ".lock") {
		return LockInfo{}, fmt.Errorf("invalid lock file name: %s", base)
	}
	name := strings.TrimSuffix(strings.TrimPrefix(base, "env-"), ".lock")

	// #nosec G304 - lockFile comes from a glob in the lock directory
	f, err := os.Open(lockFile)
	if err != nil {
		return LockInfo{}, fmt.Errorf("failed to open lock file: %w", err)
	}
	defer f.Close()

	metadata := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		}
	}
	if err := scanner.Err(); err != nil {
		return LockInfo{}, fmt.Errorf("failed to read lock file: %w", err)
	}
	if metadata["Instance"] == "" {
		return LockInfo{}, fmt.Errorf("lock file %s has no instance", base)
	}

	pid, _ := strconv.Atoi(metadata["PID"])
	timestamp, _ := strconv.ParseInt(metadata["Timestamp"], 10, 64)

	return LockInfo{
		Name:      name,
		Template:  metadata["Template"],
		Instance:  metadata["Instance"],
		PID:       pid,
		Token:     metadata["Token"],
		CreatedAt: time.Unix(timestamp, 0),
		LockFile:  lockFile,
	}, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
