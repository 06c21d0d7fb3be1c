package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/filesession"
)

func newGetCommand(app *cli) *cobra.Command {
	var def string
	cmd := &cobra.Command{
		Use:   "get <sid> <key>",
		Short: "Print one session value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, key := args[0], args[1]
			return app.withScope(cmd.Context(), func(store *filesession.Store, scope *filesession.Scope) error {
				if _, err := store.Path(sid); err != nil {
					return err
				}
				value, ok := store.Snapshot(scope, sid)[key]
				if !ok {
					if !cmd.Flags().Changed("default") {
						return fmt.Errorf("key %q not set in session %s", key, sid)
					}
					value = def
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), formatValue(value))
				return err
			})
		},
	}
	cmd.Flags().StringVar(&def, "default", "", "value printed when the key is not set")
	return cmd
}

func newSetCommand(app *cli) *cobra.Command {
	var asInt, asBool, asFloat bool
	cmd := &cobra.Command{
		Use:   "set <sid> <key> <value>",
		Short: "Store one session value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, key, raw := args[0], args[1], args[2]
			var value any = raw
			var err error
			switch {
			case asInt:
				value, err = strconv.ParseInt(raw, 10, 64)
			case asBool:
				value, err = strconv.ParseBool(raw)
			case asFloat:
				value, err = strconv.ParseFloat(raw, 64)
			}
			if err != nil {
				return fmt.Errorf("parse value %q: %w", raw, err)
			}
			return app.withScope(cmd.Context(), func(store *filesession.Store, scope *filesession.Scope) error {
				if _, err := store.Path(sid); err != nil {
					return err
				}
				return store.Set(scope, sid, key, value)
			})
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&asInt, "int", false, "store the value as a 64-bit integer")
	flags.BoolVar(&asBool, "bool", false, "store the value as a boolean")
	flags.BoolVar(&asFloat, "float", false, "store the value as a 64-bit float")
	cmd.MarkFlagsMutuallyExclusive("int", "bool", "float")
	return cmd
}

func newDeleteCommand(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <sid> <key>",
		Aliases: []string{"rm"},
		Short:   "Remove one session value; an emptied session is removed from disk",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, key := args[0], args[1]
			return app.withScope(cmd.Context(), func(store *filesession.Store, scope *filesession.Scope) error {
				if _, err := store.Path(sid); err != nil {
					return err
				}
				return store.Delete(scope, sid, key)
			})
		},
	}
}

func newShowCommand(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show <sid>",
		Short: "Print every key and value of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid := args[0]
			return app.withScope(cmd.Context(), func(store *filesession.Store, scope *filesession.Scope) error {
				if _, err := store.Path(sid); err != nil {
					return err
				}
				snapshot := store.Snapshot(scope, sid)
				out := cmd.OutOrStdout()
				for _, key := range store.Keys(scope, sid) {
					if _, err := fmt.Fprintf(out, "%s=%s\n", key, formatValue(snapshot[key])); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newPathCommand(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "path <sid>",
		Short: "Print the file that stores a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			path, err := store.Path(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}
}

func newNewIDCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "new-id",
		Short: "Print a fresh session id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), filesession.NewSessionID())
			return err
		},
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return val
	case []byte:
		return hex.EncodeToString(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(val)
	}
}
