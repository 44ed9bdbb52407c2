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

var validateID string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate an instance's environment",
	Long: `Validate checks that an instance recorded in the snapshot still has a
usable environment.

This command verifies:
  1. The instance is present in the snapshot
  2. The environment lock file exists
  3. The world directory exists

An instance that fails validation will be dropped on the next startup.`,
	Example: `  # Validate a specific instance
  dungeond validate --id 003-ruins`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateID, "id", "", "Instance ID to validate (required)")
	_ = validateCmd.MarkFlagRequired("id")
}

// environmentValidator is the part of the provisioner validate needs.
type environmentValidator interface {
	Validate(env instance.Environment) error
}

func runValidate(cmd *cobra.Command, args []string) error {
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

	return validateInstance(cmd.Context(), store, prov, validateID, cmd.OutOrStdout())
}

func validateInstance(ctx context.Context, store state.Store, v environmentValidator, id string, w io.Writer) error {
	snap, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	rec, ok := snap.FindInstance(id)
	if !ok {
		return fmt.Errorf("instance %s does not exist in the snapshot", id)
	}
	if rec.Environment == nil {
		return fmt.Errorf("instance %s has no environment (state %s)", id, rec.State)
	}

	if err := v.Validate(*rec.Environment); err != nil {
		fmt.Fprintf(w, "%s %v\n", failStyle.Render("Validation failed:"), err)
		return err
	}

	fmt.Fprintln(w, okStyle.Render("Instance environment is valid"))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Instance:    %s\n", rec.ID)
	fmt.Fprintf(w, "  State:       %s\n", rec.State)
	fmt.Fprintf(w, "  Environment: %s\n", rec.Environment.Name)
	fmt.Fprintf(w, "  World Path:  %s\n", rec.Environment.Path)
	return nil
}
