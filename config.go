package filesession

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/filesession/internal/codec"
	"pkt.systems/filesession/internal/filelock"
	"pkt.systems/filesession/internal/pathutil"
)

const (
	// DefaultApplicationName names the temp-dir subtree when none is configured.
	DefaultApplicationName = "filesession"
	// DefaultLockTimeout bounds how long load and commit wait for a session lock.
	DefaultLockTimeout = 2 * time.Second
	// DefaultLockPollInterval is the retry cadence while a lock is contended.
	DefaultLockPollInterval = filelock.DefaultPollInterval
	// DefaultFileMode is applied to newly created session and lock files.
	DefaultFileMode os.FileMode = 0o600
	// DefaultDirMode is applied to directories created under the root.
	DefaultDirMode os.FileMode = 0o700
	// DefaultConfigFileName is the config file searched for when --config is omitted.
	DefaultConfigFileName = "config.yaml"
	// DefaultKeyFileName is the key file written by "filesession keygen" when
	// no path is given.
	DefaultKeyFileName = "session.pem"
)

// Config captures the tunables of a Store.
type Config struct {
	// ApplicationName scopes the default root: <tmp>/<ApplicationName>/session/data.
	ApplicationName string
	// Root overrides the directory holding session files. "~" and $VARS expand.
	Root string
	// LockTimeout bounds lock waits on load and commit. Expiry is treated as
	// failure and the store degrades instead of blocking.
	LockTimeout time.Duration
	// LockPollInterval is the delay between lock attempts.
	LockPollInterval time.Duration
	// Codec selects the payload format ("msgpack" or "protobuf").
	Codec string
	// KeyFile points at a kryptograf PEM key bundle. Empty disables encryption.
	KeyFile  string
	FileMode os.FileMode
	DirMode  os.FileMode
}

// Validate normalises the configuration, filling defaults.
func (c *Config) Validate() error {
	c.ApplicationName = strings.TrimSpace(c.ApplicationName)
	if c.ApplicationName == "" {
		c.ApplicationName = DefaultApplicationName
	}
	if err := pathutil.ValidateName(c.ApplicationName); err != nil {
		return fmt.Errorf("config: application name: %w", err)
	}
	root, err := pathutil.ExpandUserAndEnv(c.Root)
	if err != nil {
		return fmt.Errorf("config: root: %w", err)
	}
	if root == "" {
		root = DefaultRoot(c.ApplicationName)
	}
	c.Root = filepath.Clean(root)
	if c.LockTimeout == 0 {
		c.LockTimeout = DefaultLockTimeout
	} else if c.LockTimeout < 0 {
		return fmt.Errorf("config: lock timeout must be >= 0")
	}
	if c.LockPollInterval == 0 {
		c.LockPollInterval = DefaultLockPollInterval
	} else if c.LockPollInterval < 0 {
		return fmt.Errorf("config: lock poll interval must be >= 0")
	}
	cd, err := codec.Lookup(c.Codec)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Codec = cd.Name()
	keyFile, err := pathutil.ExpandUserAndEnv(c.KeyFile)
	if err != nil {
		return fmt.Errorf("config: key file: %w", err)
	}
	c.KeyFile = keyFile
	if c.FileMode == 0 {
		c.FileMode = DefaultFileMode
	}
	if c.DirMode == 0 {
		c.DirMode = DefaultDirMode
	}
	if c.FileMode&^os.ModePerm != 0 || c.DirMode&^os.ModePerm != 0 {
		return fmt.Errorf("config: file and dir modes must be permission bits only")
	}
	return nil
}

// DefaultRoot returns <os.TempDir()>/<app>/session/data.
func DefaultRoot(app string) string {
	if strings.TrimSpace(app) == "" {
		app = DefaultApplicationName
	}
	return filepath.Join(os.TempDir(), app, "session", "data")
}

// DefaultConfigDir returns the directory searched for config.yaml and key
// files. FILESESSION_CONFIG_DIR overrides $HOME/.filesession.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("FILESESSION_CONFIG_DIR")); override != "" {
		return filepath.Abs(override)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".filesession"), nil
}
