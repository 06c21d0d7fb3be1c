package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pkt.systems/filesession/internal/filelock"
)

type sessionFile struct {
	ID      string
	Size    int64
	ModTime string
}

func newListCommand(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List session files under the root",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.config()
			if err := cfg.Validate(); err != nil {
				return err
			}
			files, err := listSessions(cfg.Root)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, f := range files {
				if _, err := fmt.Fprintf(out, "%s\t%s\t%s\n", f.ID, humanizeBytes(f.Size), f.ModTime); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// listSessions returns the session files in root, sorted by id. Lock sidecars
// and directories are skipped; a missing root lists nothing.
func listSessions(root string) ([]sessionFile, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session root: %w", err)
	}
	var out []sessionFile
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), filelock.Suffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, sessionFile{
			ID:      entry.Name(),
			Size:    info.Size(),
			ModTime: humanize.Time(info.ModTime()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func humanizeBytes(n int64) string {
	return strings.ReplaceAll(humanize.Bytes(uint64(n)), " ", "")
}
