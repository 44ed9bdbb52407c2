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

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pigeonworks-llc/go-dungeon/pkg/instance"
	"github.com/pigeonworks-llc/go-dungeon/pkg/provision"
	"github.com/pigeonworks-llc/go-dungeon/pkg/state"
)

var (
	cleanupID      string
	cleanupAll     bool
	cleanupOrphans bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove instances and their world copies",
	Long: `Cleanup tears down instance environments while the daemon is stopped.

This command:
  1. Removes the instance's world directory
  2. Releases the environment lock file
  3. Removes the instance from the saved snapshot

All cleanup operations are safe and idempotent.`,
	Example: `  # Cleanup a specific instance
  dungeond cleanup --id 003-ruins

  # Cleanup every instance in the snapshot
  dungeond cleanup --all

  # Cleanup world copies the snapshot does not know about
  dungeond cleanup --orphans`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().StringVar(&cleanupID, "id", "", "Instance ID to cleanup")
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "Cleanup all instances")
	cleanupCmd.Flags().BoolVar(&cleanupOrphans, "orphans", false, "Cleanup environments with no snapshot entry")
	cleanupCmd.MarkFlagsMutuallyExclusive("id", "all", "orphans")
}

// environmentCleaner is the part of the provisioner cleanup needs.
type environmentCleaner interface {
	Teardown(ctx context.Context, env instance.Environment) error
	Locks() ([]provision.LockInfo, error)
}

type cleanupOptions struct {
	id      string
	all     bool
	orphans bool
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if cleanupID == "" && !cleanupAll && !cleanupOrphans {
		return fmt.Errorf("either --id, --all, or --orphans must be specified")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.New(slog.DiscardHandler)

	prov, err := provision.New(cfg.Provisioner(), logger)
	if err != nil {
		return fmt.Errorf("failed to create provisioner: %w", err)
	}
	store, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer store.Close()

	opts := cleanupOptions{id: cleanupID, all: cleanupAll, orphans: cleanupOrphans}
	return cleanupInstances(cmd.Context(), store, prov, opts, cmd.OutOrStdout())
}

func cleanupInstances(ctx context.Context, store state.Store, cleaner environmentCleaner, opts cleanupOptions, w io.Writer) error {
	snap, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	var targets []*state.InstanceRecord
	switch {
	case opts.id != "":
		rec, ok := snap.FindInstance(opts.id)
		if !ok {
			rec = &state.InstanceRecord{ID: opts.id}
		}
		targets = append(targets, rec)
	case opts.all:
		targets = append(targets, snap.Instances...)
	}

	if opts.all || opts.orphans {
		locks, err := cleaner.Locks()
		if err != nil {
			return fmt.Errorf("failed to list locks: %w", err)
		}
		for _, lock := range locks {
			if _, known := snap.FindInstance(lock.Instance); known {
				continue
			}
			targets = append(targets, &state.InstanceRecord{
				ID:          lock.Instance,
				Environment: &instance.Environment{Name: lock.Name},
			})
		}
	}

	if len(targets) == 0 {
		fmt.Fprintln(w, "No instances to cleanup")
		return nil
	}

	cleaned, failed := 0, 0
	for _, rec := range targets {
		env := instance.Environment{Name: provision.EnvironmentName(rec.ID)}
		if rec.Environment != nil {
			env = *rec.Environment
		}
		if err := cleaner.Teardown(ctx, env); err != nil {
			fmt.Fprintf(w, "%s %s: %v\n", failStyle.Render("failed"), rec.ID, err)
			failed++
			continue
		}
		snap.RemoveInstance(rec.ID)
		fmt.Fprintf(w, "%s %s (%s)\n", okStyle.Render("cleaned"), rec.ID, env.Name)
		cleaned++
	}

	if err := store.Save(ctx, snap); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	fmt.Fprintf(w, "\nCleaned up %d instance(s)", cleaned)
	if failed > 0 {
		fmt.Fprintf(w, " (%d failed)", failed)
	}
	fmt.Fprintln(w)
	return nil
}
