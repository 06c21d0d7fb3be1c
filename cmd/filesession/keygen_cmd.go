package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"pkt.systems/filesession"
	"pkt.systems/filesession/internal/pathutil"
	"pkt.systems/filesession/internal/sessioncrypto"
)

func newKeygenCommand() *cobra.Command {
	var outPath string
	defaultOutput := "$HOME/.filesession/" + filesession.DefaultKeyFileName
	if dir, err := filesession.DefaultConfigDir(); err == nil {
		defaultOutput = filepath.Join(dir, filesession.DefaultKeyFileName)
	}
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a key file for encrypting session payloads",
		Long: `Creates a kryptograf key bundle holding the session encryption key. An
existing bundle is extended rather than replaced, so re-running keygen never
invalidates sessions that are already encrypted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := outPath
			if target == "" {
				dir, err := filesession.DefaultConfigDir()
				if err != nil {
					return fmt.Errorf("resolve config dir: %w", err)
				}
				target = filepath.Join(dir, filesession.DefaultKeyFileName)
			}
			expanded, err := pathutil.ExpandUserAndEnv(target)
			if err != nil {
				return fmt.Errorf("expand key path %q: %w", target, err)
			}
			written, err := sessioncrypto.EnsureKeyFile(expanded)
			if err != nil {
				return err
			}
			if written {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote session key to %s\n", expanded)
			} else {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "session key already present in %s\n", expanded)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", fmt.Sprintf("key file path (defaults to %s)", defaultOutput))
	return cmd
}
