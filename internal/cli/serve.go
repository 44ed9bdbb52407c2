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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pigeonworks-llc/go-dungeon/internal/config"
	"github.com/pigeonworks-llc/go-dungeon/internal/console"
	"github.com/pigeonworks-llc/go-dungeon/internal/logging"
	"github.com/pigeonworks-llc/go-dungeon/pkg/dungeon"
	"github.com/pigeonworks-llc/go-dungeon/pkg/loop"
	"github.com/pigeonworks-llc/go-dungeon/pkg/provision"
	"github.com/pigeonworks-llc/go-dungeon/pkg/sched"
	"github.com/pigeonworks-llc/go-dungeon/pkg/template"
)

var serveNoConsole bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the instance manager",
	Long: `Serve loads the template catalog, recovers instances from the last
snapshot and runs the instance manager until interrupted.

On startup:
  1. Running instances whose world copy still exists are restored
  2. Everything else recorded in the snapshot is dropped and cleaned up
  3. Expiry timers are re-armed against the persisted deadlines

State is saved every autosave interval and once more on shutdown.
Commands are read from standard input unless --no-console is given.`,
	Example: `  # Run with the interactive console
  dungeond serve

  # Run headless with a specific config file
  dungeond serve --no-console --config /etc/dungeon/config.yaml`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoConsole, "no-console", false, "Do not read commands from standard input")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Logging.File, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var in io.Reader = cmd.InOrStdin()
	if serveNoConsole {
		in = nil
	}
	return serve(ctx, cfg, logger.Logger, in, cmd.OutOrStdout())
}

// serve runs the manager until ctx is done or, with a console, until the
// input ends.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, in io.Reader, out io.Writer) (err error) {
	catalog, err := template.LoadFile(cfg.Templates.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}
	if cfg.Templates.Watch {
		go func() {
			if werr := catalog.Watch(ctx); werr != nil {
				logger.Warn("template watch stopped", "error", werr)
			}
		}()
	}

	prov, err := provision.New(cfg.Provisioner(), logger)
	if err != nil {
		return fmt.Errorf("failed to create provisioner: %w", err)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	// The loop outlives ctx so shutdown work can still run on it.
	l := loop.New()
	loopCtx, stopLoop := context.WithCancel(context.Background())
	go l.Run(loopCtx)

	workers := dungeon.NewPoolWorkers(cfg.Worlds.Workers)
	defer func() {
		stopLoop()
		<-l.Done()
		workers.Wait()
	}()

	tracker := console.NewTracker()
	mgr, err := dungeon.New(cfg.Manager(), dungeon.Deps{
		Templates:   catalog,
		Provisioner: prov,
		Scheduler:   sched.NewTimer(l),
		Notifier:    console.NewPrinter(out),
		Transporter: tracker,
		Occupants:   tracker,
		Workers:     workers,
		Poster:      l,
	}, dungeon.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	var (
		report *dungeon.RecoveryReport
		rerr   error
	)
	if err := l.Call(ctx, func() { report, rerr = mgr.Load(ctx, store) }); err != nil {
		return err
	}
	if rerr != nil {
		return fmt.Errorf("failed to recover state: %w", rerr)
	}
	logger.Info("recovery complete",
		"restored", len(report.Restored), "dropped", len(report.Dropped),
		"expired", len(report.Expired))

	go mgr.RunAutosave(ctx, store, cfg.AutosaveInterval())

	var runErr error
	if in != nil {
		con := console.New(mgr, l, tracker, out,
			console.WithTemplates(catalog),
			console.WithSaver(func(ctx context.Context) error { return mgr.Save(ctx, store) }))
		runErr = con.Run(ctx, in)
		if errors.Is(runErr, context.Canceled) {
			runErr = nil
		}
	} else {
		<-ctx.Done()
	}

	logger.Info("shutting down")
	var saveErr error
	if cerr := l.Call(context.Background(), func() { saveErr = mgr.Save(context.Background(), store) }); cerr != nil {
		saveErr = cerr
	}
	if saveErr != nil {
		logger.Error("final save failed", "error", saveErr)
	}
	return errors.Join(runErr, saveErr)
}
