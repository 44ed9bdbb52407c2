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
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tomlCatalog = `
[[template]]
name = "ruins"
display_name = "Sunken Ruins"
timeout_seconds = 3600
creation_cost = 25.0

[[template]]
name = "crypt"
world = "crypt_v2"
timeout_seconds = 900
cooldown_seconds = 60
`

const yamlCatalog = `
templates:
  - name: tower
    display_name: Mage Tower
    timeout_seconds: 1200
`

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("loads TOML catalog", func(t *testing.T) {
		path := filepath.Join(dir, "templates.toml")
		require.NoError(t, os.WriteFile(path, []byte(tomlCatalog), 0o644))

		catalog, err := LoadFile(path, nil)
		require.NoError(t, err)

		ruins, ok := catalog.Lookup("ruins")
		require.True(t, ok)
		assert.Equal(t, "Sunken Ruins", ruins.Title())
		assert.Equal(t, time.Hour, ruins.Timeout())
		assert.Equal(t, "ruins", ruins.WorldName())
		assert.Equal(t, 25.0, ruins.CreationCost)

		crypt, ok := catalog.Lookup("crypt")
		require.True(t, ok)
		assert.Equal(t, "crypt_v2", crypt.WorldName())
		assert.Equal(t, time.Minute, crypt.Cooldown())
		assert.Equal(t, "crypt", crypt.Title())

		names := []string{}
		for _, tpl := range catalog.List() {
			names = append(names, tpl.Name)
		}
		assert.Equal(t, []string{"crypt", "ruins"}, names)
	})

	t.Run("loads YAML catalog", func(t *testing.T) {
		path := filepath.Join(dir, "templates.yaml")
		require.NoError(t, os.WriteFile(path, []byte(yamlCatalog), 0o644))

		catalog, err := LoadFile(path, nil)
		require.NoError(t, err)
		assert.True(t, catalog.Exists("tower"))
		assert.False(t, catalog.Exists("ruins"))
	})

	t.Run("rejects unknown extension", func(t *testing.T) {
		path := filepath.Join(dir, "templates.json")
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

		_, err := LoadFile(path, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported")
	})

	t.Run("rejects invalid template", func(t *testing.T) {
		path := filepath.Join(dir, "bad.toml")
		require.NoError(t, os.WriteFile(path, []byte("[[template]]\nname = \"x\"\n"), 0o644))

		_, err := LoadFile(path, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout_seconds")
	})
}

func TestTemplate_ValidateRejectsUnsafeNames(t *testing.T) {
	tests := []struct {
		name string
		tpl  Template
	}{
		{"parent directory", Template{Name: "..", TimeoutSeconds: 60}},
		{"dot", Template{Name: ".", TimeoutSeconds: 60}},
		{"slash", Template{Name: "ruins/deep", TimeoutSeconds: 60}},
		{"backslash", Template{Name: `ruins\deep`, TimeoutSeconds: 60}},
		{"embedded dots", Template{Name: "a..b", TimeoutSeconds: 60}},
		{"space", Template{Name: "sunken ruins", TimeoutSeconds: 60}},
		{"world path", Template{Name: "ruins", World: "../../etc", TimeoutSeconds: 60}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.tpl.Validate())
		})
	}

	assert.NoError(t, Template{Name: "sunken_ruins-2", World: "ruins.v2", TimeoutSeconds: 60}.Validate())
}

func TestNewCatalog_Duplicate(t *testing.T) {
	_, err := NewCatalog(
		Template{Name: "a", TimeoutSeconds: 1},
		Template{Name: "a", TimeoutSeconds: 2},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestCatalog_ReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.toml")
	require.NoError(t, os.WriteFile(path, []byte(tomlCatalog), 0o644))

	catalog, err := LoadFile(path, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("not = [valid"), 0o644))
	require.Error(t, catalog.Reload())
	assert.True(t, catalog.Exists("ruins"))
}

func TestCatalog_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlCatalog), 0o644))

	catalog, err := LoadFile(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = catalog.Watch(ctx) }()

	// Give the watcher a moment to register.
	time.Sleep(100 * time.Millisecond)

	updated := yamlCatalog + "  - name: keep\n    timeout_seconds: 60\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	assert.Eventually(t, func() bool { return catalog.Exists("keep") }, 5*time.Second, 20*time.Millisecond)
}
