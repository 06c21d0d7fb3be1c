package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"pkt.systems/filesession/internal/filelock"
	"pkt.systems/filesession/internal/loggingutil"
)

func newWatchCommand(app *cli) *cobra.Command {
	var maxEvents int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream session file changes under the root until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.config()
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.Root, cfg.DirMode); err != nil {
				return fmt.Errorf("create session root: %w", err)
			}
			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("create watcher: %w", err)
			}
			defer watcher.Close()
			if err := watcher.Add(cfg.Root); err != nil {
				return fmt.Errorf("watch %s: %w", cfg.Root, err)
			}
			logger := loggingutil.WithSubsystem(app.logger, "cli", "watch")
			logger.Debug("filesession.watch.started", "root", cfg.Root)

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			seen := 0
			for {
				select {
				case <-ctx.Done():
					return nil
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					name := filepath.Base(event.Name)
					if strings.HasSuffix(name, filelock.Suffix) {
						continue
					}
					op := describeOp(event.Op)
					if op == "" {
						continue
					}
					if _, err := fmt.Fprintf(out, "%s\t%s\n", op, name); err != nil {
						return err
					}
					seen++
					if maxEvents > 0 && seen >= maxEvents {
						return nil
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					if errors.Is(err, fsnotify.ErrEventOverflow) {
						logger.Warn("filesession.watch.overflow")
						continue
					}
					return fmt.Errorf("watch %s: %w", cfg.Root, err)
				}
			}
		},
	}
	cmd.Flags().IntVar(&maxEvents, "max-events", 0, "exit after this many events (0 watches until interrupted)")
	return cmd
}

func describeOp(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	default:
		return ""
	}
}
