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
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pigeonworks-llc/go-dungeon/pkg/template"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List the templates in the catalog",
	Long: `Templates loads the configured TOML or YAML catalog and prints every
template with its time budget, cooldown and creation cost.`,
	Example: `  # List templates
  dungeond templates`,
	RunE: runTemplates,
}

func runTemplates(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := template.LoadFile(cfg.Templates.Path, nil)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}
	printTemplates(catalog.List(), cmd.OutOrStdout())
	return nil
}

func printTemplates(templates []template.Template, w io.Writer) {
	if len(templates) == 0 {
		fmt.Fprintln(w, "No templates found")
		return
	}

	t := &table{columns: []column{
		{title: "NAME", width: 14},
		{title: "DISPLAY NAME", width: 24},
		{title: "WORLD", width: 14},
		{title: "TIMEOUT", width: 10},
		{title: "COOLDOWN", width: 10},
		{title: "COST"},
	}}
	for _, tpl := range templates {
		cooldown := "default"
		if tpl.Cooldown() > 0 {
			cooldown = tpl.Cooldown().String()
		}
		t.add(
			tpl.Name,
			tpl.Title(),
			tpl.WorldName(),
			tpl.Timeout().String(),
			cooldown,
			strconv.FormatFloat(tpl.CreationCost, 'f', -1, 64),
		)
	}
	t.render(w)
}
