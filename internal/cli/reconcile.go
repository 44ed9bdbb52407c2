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

	"github.com/pigeonworks-llc/go-dungeon/pkg/provision"
	"github.com/pigeonworks-llc/go-dungeon/pkg/state"
)

var reconcileDryRun bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Drop snapshot entries whose world copies are gone",
	Long: `Reconcile compares the saved snapshot with the world copies and lock
files on disk.

Instances are removed from the snapshot when:
  1. They were not running when the snapshot was taken
  2. Their world directory or lock file no longer exists

Members of a removed instance are detached from it. Run this while the
daemon is stopped; the daemon performs the same checks on startup.`,
	Example: `  # Reconcile the snapshot
  dungeond reconcile

  # Show what would be dropped without saving
  dungeond reconcile --dry-run`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "Report without saving")
}

func runReconcile(cmd *cobra.Command, args []string) error {
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

	_, err = reconcileSnapshot(cmd.Context(), store, prov.Exists, reconcileDryRun, cmd.OutOrStdout())
	return err
}

func reconcileSnapshot(ctx context.Context, store state.Store, exists state.EnvironmentExists, dryRun bool, w io.Writer) ([]*state.InstanceRecord, error) {
	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	fmt.Fprintln(w, "Reconciling state...")
	dropped := snap.Reconcile(exists)
	for _, rec := range dropped {
		fmt.Fprintf(w, "  %s %s (%s)\n", failStyle.Render("dropped"), rec.ID, rec.State)
	}

	if dryRun {
		fmt.Fprintf(w, "Would drop %d instance(s), keep %d\n", len(dropped), len(snap.Instances))
		return dropped, nil
	}
	if len(dropped) > 0 {
		if err := store.Save(ctx, snap); err != nil {
			return nil, fmt.Errorf("failed to save state: %w", err)
		}
	}
	fmt.Fprintf(w, "%s dropped %d instance(s), kept %d\n", okStyle.Render("Done:"), len(dropped), len(snap.Instances))
	return dropped, nil
}
