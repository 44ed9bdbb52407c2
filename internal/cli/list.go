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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/pigeonworks-llc/go-dungeon/pkg/state"
)

var listFormat string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List instances in the last saved snapshot",
	Long: `List shows every instance recorded in the state store.

It displays the instance id, state, template, owner, number of members,
time until expiry and creation time. The snapshot reflects the daemon's
last autosave, so very recent changes may be missing.`,
	Example: `  # List instances in table format
  dungeond list

  # List in JSON format
  dungeond list --format json`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listFormat, "format", "table", "Output format (table, json)")
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cmd.Context(), cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer store.Close()

	return listInstances(cmd.Context(), store, listFormat, time.Now(), cmd.OutOrStdout())
}

type listEntry struct {
	*state.InstanceRecord
	Members []string `json:"members"`
}

func listInstances(ctx context.Context, store state.Store, format string, now time.Time, w io.Writer) error {
	snap, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	members := make(map[string][]string)
	for _, s := range snap.Sessions {
		if s.CurrentInstance != "" {
			members[s.CurrentInstance] = append(members[s.CurrentInstance], string(s.Actor))
		}
	}

	switch format {
	case "json":
		entries := make([]listEntry, 0, len(snap.Instances))
		for _, rec := range snap.Instances {
			entries = append(entries, listEntry{InstanceRecord: rec, Members: members[rec.ID]})
		}
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	case "table":
	default:
		return fmt.Errorf("unknown format: %s", format)
	}

	if len(snap.Instances) == 0 {
		fmt.Fprintln(w, "No instances found")
		return nil
	}

	t := &table{columns: []column{
		{title: "ID", width: 20},
		{title: "STATE", width: 10, color: stateColor},
		{title: "TEMPLATE", width: 14},
		{title: "OWNER", width: 16},
		{title: "MEMBERS", width: 8},
		{title: "EXPIRES IN", width: 12},
		{title: "CREATED"},
	}}
	for _, rec := range snap.Instances {
		t.add(
			rec.ID,
			rec.State.String(),
			rec.Template,
			string(rec.Owner),
			strconv.Itoa(len(members[rec.ID])),
			formatRemaining(rec.ExpiresAt, now),
			formatTimeAgo(rec.CreatedAt, now),
		)
	}
	t.render(w)

	fmt.Fprintf(w, "\nTotal: %d instance(s)\n", len(snap.Instances))
	return nil
}
