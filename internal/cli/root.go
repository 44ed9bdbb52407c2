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

// Package cli provides the command-line interface for dungeond.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pigeonworks-llc/go-dungeon/internal/config"
	"github.com/pigeonworks-llc/go-dungeon/pkg/state"
)

var (
	// Version is set during build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "dungeond",
		Short: "Lifecycle manager for temporary dungeon instances",
		Long: `dungeond runs temporary, isolated dungeon instances copied from template
worlds.

Features:
  - Per-player creation cooldowns and single-instance membership
  - Invite-only or public instances with kick and invite
  - Expiry warnings and hard timeouts, completion grace period
  - Snapshot persistence (JSON file or SQLite) with crash recovery
  - Offline reconcile and cleanup of leftover environments

Example:
  # Run the daemon with an interactive console
  dungeond serve

  # Show instances recorded in the last snapshot
  dungeond list

  # Drop snapshot entries whose world copies are gone
  dungeond reconcile`,
		Version: Version,
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/dungeon/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(templatesCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("DUNGEON")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	config.SetDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config file: %v\n", err)
		}
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openStore opens the configured snapshot backend.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (state.Store, error) {
	switch cfg.State.Backend {
	case "sqlite":
		s, err := state.OpenSQLite(ctx, cfg.State.Path, state.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil
	case "file":
		s, err := state.NewFileStore(cfg.State.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown state backend: %s", cfg.State.Backend)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "dungeond version %s\n", Version)
	},
}
