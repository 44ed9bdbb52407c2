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
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/pigeonworks-llc/go-dungeon/pkg/instance"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#cdd6f4"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6c7086"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#a6e3a1"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#f9e2af"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#f38ba8"))
)

// column is one table column with a fixed width. Color is applied after
// padding so escape codes do not skew the layout.
type column struct {
	title string
	width int
	color func(cell string) lipgloss.Style
}

// table renders fixed-width rows. The last column is never padded.
type table struct {
	columns []column
	rows    [][]string
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) render(w io.Writer) {
	titles := make([]string, len(t.columns))
	for i, c := range t.columns {
		titles[i] = c.title
	}
	fmt.Fprintln(w, headerStyle.Render(t.line(titles, false)))
	fmt.Fprintln(w, mutedStyle.Render(strings.Repeat("-", t.totalWidth())))
	for _, row := range t.rows {
		fmt.Fprintln(w, t.line(row, true))
	}
}

func (t *table) line(cells []string, colored bool) string {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		col := t.columns[i]
		text := cell
		if i < len(cells)-1 {
			text = fmt.Sprintf("%-*s", col.width, truncate(cell, col.width))
		}
		if colored && col.color != nil {
			text = col.color(cell).Render(text)
		}
		parts[i] = text
	}
	return strings.Join(parts, " ")
}

func (t *table) totalWidth() int {
	n := 0
	for _, c := range t.columns {
		n += c.width + 1
	}
	return n
}

func stateColor(cell string) lipgloss.Style {
	s, err := instance.ParseState(cell)
	if err != nil {
		return mutedStyle
	}
	switch s {
	case instance.StateRunning:
		return okStyle
	case instance.StateCompleted, instance.StateCreating:
		return warnStyle
	default:
		return failStyle
	}
}

func formatRemaining(expires, now time.Time) string {
	d := expires.Sub(now)
	if d <= 0 {
		return "expired"
	}
	return d.Round(time.Second).String()
}

func formatTimeAgo(t, now time.Time) string {
	duration := now.Sub(t)

	switch {
	case duration < time.Minute:
		return "just now"
	case duration < time.Hour:
		return fmt.Sprintf("%dm ago", int(duration.Minutes()))
	case duration < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(duration.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(duration.Hours()/24))
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
