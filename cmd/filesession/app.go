package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"pkt.systems/pslog"

	"pkt.systems/filesession"
	"pkt.systems/filesession/internal/codec"
	"pkt.systems/filesession/internal/loggingutil"
	"pkt.systems/filesession/internal/pathutil"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("FILESESSION_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "filesession")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "filesession: %s\n", err)
		}
		return 1
	}
	return 0
}

// cli carries state shared by every subcommand of one invocation.
type cli struct {
	v          *viper.Viper
	baseLogger pslog.Logger
	logger     pslog.Logger
	configFile string
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	app := &cli{
		v:          viper.New(),
		baseLogger: loggingutil.EnsureLogger(baseLogger),
	}
	app.logger = app.baseLogger

	cmd := &cobra.Command{
		Use:           "filesession",
		Short:         "Inspect and edit file-backed web sessions",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # Read a value written by the "shop" application
  filesession --app shop get cq8k1v2n0e5g00b0c7s0 user

  # Store a typed value in an explicit session directory
  filesession --root /var/lib/shop/sessions set cq8k1v2n0e5g00b0c7s0 visits 3 --int

  # Encrypt payloads at rest
  filesession keygen --out ~/.filesession/session.pem
  FILESESSION_KEY_FILE=~/.filesession/session.pem filesession show cq8k1v2n0e5g00b0c7s0
`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.prepare()
		},
	}

	persistentFlags := cmd.PersistentFlags()
	persistentFlags.StringP("config", "c", "", "path to YAML config file (defaults to $HOME/.filesession/"+filesession.DefaultConfigFileName+")")
	persistentFlags.String("app", filesession.DefaultApplicationName, "application name used to derive the default session root")
	persistentFlags.String("root", "", "session directory (defaults to <tmp>/<app>/session/data)")
	persistentFlags.String("codec", codec.MsgpackName, fmt.Sprintf("payload codec (%s)", strings.Join(codec.Names(), ", ")))
	persistentFlags.String("key-file", "", "kryptograf key file used to encrypt session payloads (empty disables)")
	persistentFlags.Duration("lock-timeout", filesession.DefaultLockTimeout, "maximum wait for a session lock")
	persistentFlags.String("log-level", "", "log level (trace, debug, info, warn, error); defaults to FILESESSION_LOG_LEVEL or info")

	app.v.SetEnvPrefix("FILESESSION")
	app.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	app.v.AutomaticEnv()
	persistentFlags.VisitAll(func(flag *pflag.Flag) {
		if err := app.v.BindPFlag(flag.Name, flag); err != nil {
			panic(err)
		}
	})

	cmd.AddCommand(
		newGetCommand(app),
		newSetCommand(app),
		newDeleteCommand(app),
		newShowCommand(app),
		newListCommand(app),
		newPathCommand(app),
		newNewIDCommand(),
		newKeygenCommand(),
		newWatchCommand(app),
		newConfigCommand(),
		newVersionCommand(),
	)
	return cmd
}

// prepare loads the config file and applies the requested log level.
func (c *cli) prepare() error {
	configFile, err := c.loadConfigFile()
	if err != nil {
		return err
	}
	c.configFile = configFile
	c.logger = c.baseLogger
	if raw := strings.TrimSpace(c.v.GetString("log-level")); raw != "" {
		level, ok := pslog.ParseLevel(raw)
		if !ok {
			return fmt.Errorf("invalid log level %q", raw)
		}
		c.logger = c.logger.LogLevel(level)
	}
	if configFile != "" {
		loggingutil.WithSubsystem(c.logger, "cli", "config").Debug("filesession.cli.config_loaded", "path", configFile)
	}
	return nil
}

func (c *cli) loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(c.v.GetString("config"))
	explicit := cfgPath != ""
	if !explicit {
		dir, err := filesession.DefaultConfigDir()
		if err != nil {
			return "", nil
		}
		cfgPath = filepath.Join(dir, filesession.DefaultConfigFileName)
	}
	expanded, err := pathutil.ExpandUserAndEnv(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	if expanded, err = filepath.Abs(expanded); err != nil {
		return "", fmt.Errorf("resolve config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}
	c.v.SetConfigFile(expanded)
	if err := c.v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func (c *cli) config() filesession.Config {
	return filesession.Config{
		ApplicationName: c.v.GetString("app"),
		Root:            c.v.GetString("root"),
		Codec:           c.v.GetString("codec"),
		KeyFile:         c.v.GetString("key-file"),
		LockTimeout:     c.v.GetDuration("lock-timeout"),
	}
}

func (c *cli) openStore() (*filesession.Store, error) {
	return filesession.New(c.config(), filesession.WithLogger(loggingutil.WithSubsystem(c.logger, "cli")))
}

// withScope runs fn inside one scope and commits it before returning.
func (c *cli) withScope(ctx context.Context, fn func(store *filesession.Store, scope *filesession.Scope) error) error {
	store, err := c.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	scope := filesession.NewScope(pslog.ContextWithLogger(ctx, c.logger))
	runErr := fn(store, scope)
	return errors.Join(runErr, scope.Close())
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
