package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"pkt.systems/pslog"

	"pkt.systems/filesession"
	"pkt.systems/filesession/internal/filelock"
	"pkt.systems/filesession/internal/version"
)

// isolateEnv keeps the developer's own config and FILESESSION_* variables out
// of the command under test.
func isolateEnv(t *testing.T) string {
	t.Helper()
	cfgDir := t.TempDir()
	t.Setenv("FILESESSION_CONFIG_DIR", cfgDir)
	for _, key := range []string{"FILESESSION_CONFIG", "FILESESSION_APP", "FILESESSION_ROOT", "FILESESSION_CODEC", "FILESESSION_KEY_FILE", "FILESESSION_LOCK_TIMEOUT", "FILESESSION_LOG_LEVEL"} {
		t.Setenv(key, "")
	}
	return cfgDir
}

func executeRootCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand(pslog.NewStructured(context.Background(), io.Discard))
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	stdout, stderr, err := executeRootCommand(t, args...)
	if err != nil {
		t.Fatalf("%v failed: %v (stderr=%q)", args, err, stderr)
	}
	return stdout
}

func TestSetGetShowDelete(t *testing.T) {
	isolateEnv(t)
	root := t.TempDir()
	sid := "cq8k1v2n0e5g00b0c7s0"

	mustExecute(t, "--root", root, "set", sid, "user", "alice")
	mustExecute(t, "--root", root, "set", sid, "visits", "3", "--int")
	mustExecute(t, "--root", root, "set", sid, "admin", "true", "--bool")

	if got := mustExecute(t, "--root", root, "get", sid, "user"); got != "alice\n" {
		t.Fatalf("get user = %q", got)
	}
	if got := mustExecute(t, "--root", root, "show", sid); got != "admin=true\nuser=alice\nvisits=3\n" {
		t.Fatalf("show = %q", got)
	}

	mustExecute(t, "--root", root, "delete", sid, "user")
	if got := mustExecute(t, "--root", root, "get", sid, "user", "--default", "nobody"); got != "nobody\n" {
		t.Fatalf("get with default = %q", got)
	}
	if _, _, err := executeRootCommand(t, "--root", root, "get", sid, "user"); err == nil || !strings.Contains(err.Error(), "not set") {
		t.Fatalf("expected missing key error, got %v", err)
	}

	mustExecute(t, "--root", root, "delete", sid, "visits")
	mustExecute(t, "--root", root, "rm", sid, "admin")
	if _, err := os.Stat(filepath.Join(root, sid)); !os.IsNotExist(err) {
		t.Fatalf("expected emptied session to be removed, stat err=%v", err)
	}
}

func TestGetDistinguishesNilValueFromMissingKey(t *testing.T) {
	isolateEnv(t)
	root := t.TempDir()
	sid := "cq8k1v2n0e5g00b0c7s0"

	store, err := filesession.New(filesession.Config{Root: root})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	scope := filesession.NewScope(context.Background())
	_ = store.Set(scope, sid, "empty", nil)
	_ = store.Set(scope, sid, "user", "alice")
	if err := scope.Close(); err != nil {
		t.Fatalf("close scope: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	if got := mustExecute(t, "--root", root, "get", sid, "empty"); got != "<nil>\n" {
		t.Fatalf("get nil value = %q", got)
	}
	if got := mustExecute(t, "--root", root, "get", sid, "empty", "--default", "fallback"); got != "<nil>\n" {
		t.Fatalf("stored nil must win over --default, got %q", got)
	}
	if _, _, err := executeRootCommand(t, "--root", root, "get", sid, "missing"); err == nil || !strings.Contains(err.Error(), "not set") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestSetRejectsBadTypedValues(t *testing.T) {
	isolateEnv(t)
	root := t.TempDir()

	if _, _, err := executeRootCommand(t, "--root", root, "set", "abc", "n", "three", "--int"); err == nil {
		t.Fatal("expected parse error for --int")
	}
	if _, _, err := executeRootCommand(t, "--root", root, "set", "abc", "n", "1", "--int", "--bool"); err == nil {
		t.Fatal("expected error for conflicting type flags")
	}
}

func TestInvalidSessionIDIsReported(t *testing.T) {
	isolateEnv(t)
	root := t.TempDir()

	for _, args := range [][]string{
		{"--root", root, "set", "../escape", "k", "v"},
		{"--root", root, "get", "a/b", "k"},
		{"--root", root, "path", ".."},
	} {
		_, _, err := executeRootCommand(t, args...)
		if err == nil || !strings.Contains(err.Error(), "invalid session id") {
			t.Fatalf("%v: expected invalid session id error, got %v", args, err)
		}
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected untouched root, found %d entries", len(entries))
	}
}

func TestPathAndDefaultRoot(t *testing.T) {
	isolateEnv(t)
	root := t.TempDir()

	if got := mustExecute(t, "--root", root, "path", "abc"); got != filepath.Join(root, "abc")+"\n" {
		t.Fatalf("path = %q", got)
	}
	want := filepath.Join(os.TempDir(), "shop", "session", "data", "abc") + "\n"
	if got := mustExecute(t, "--app", "shop", "path", "abc"); got != want {
		t.Fatalf("default root path = %q want %q", got, want)
	}
}

func TestEnvironmentOverridesRoot(t *testing.T) {
	isolateEnv(t)
	root := t.TempDir()
	t.Setenv("FILESESSION_ROOT", root)

	if got := mustExecute(t, "path", "abc"); got != filepath.Join(root, "abc")+"\n" {
		t.Fatalf("path = %q", got)
	}
}

func TestConfigFileIsLoaded(t *testing.T) {
	cfgDir := isolateEnv(t)
	root := t.TempDir()
	cfgPath := filepath.Join(cfgDir, "custom.yaml")
	if err := os.WriteFile(cfgPath, []byte("root: "+root+"\ncodec: protobuf\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	mustExecute(t, "-c", cfgPath, "set", "abc", "n", "2", "--int")
	if got := mustExecute(t, "-c", cfgPath, "get", "abc", "n"); got != "2\n" {
		t.Fatalf("get = %q", got)
	}
	if _, err := os.Stat(filepath.Join(root, "abc")); err != nil {
		t.Fatalf("expected session under configured root: %v", err)
	}

	if _, _, err := executeRootCommand(t, "-c", filepath.Join(cfgDir, "missing.yaml"), "path", "abc"); err == nil {
		t.Fatal("expected error for explicit missing config file")
	}
}

func TestDefaultConfigFileIsDiscovered(t *testing.T) {
	cfgDir := isolateEnv(t)
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte("root: "+root+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if got := mustExecute(t, "path", "abc"); got != filepath.Join(root, "abc")+"\n" {
		t.Fatalf("path = %q", got)
	}
}

func TestNewIDCommand(t *testing.T) {
	isolateEnv(t)

	first := strings.TrimSpace(mustExecute(t, "new-id"))
	second := strings.TrimSpace(mustExecute(t, "new-id"))
	if len(first) != 20 || first == second {
		t.Fatalf("unexpected ids %q %q", first, second)
	}
}

func TestListSkipsLockFiles(t *testing.T) {
	isolateEnv(t)
	root := t.TempDir()

	mustExecute(t, "--root", root, "set", "bbb", "k", "v")
	mustExecute(t, "--root", root, "set", "aaa", "k", strings.Repeat("x", 2048))
	out := mustExecute(t, "--root", root, "list")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("list = %q", out)
	}
	if !strings.HasPrefix(lines[0], "aaa\t2.") || !strings.HasPrefix(lines[1], "bbb\t") {
		t.Fatalf("list order or sizes unexpected: %q", out)
	}
	if strings.Contains(out, filelock.Suffix) {
		t.Fatalf("lock files listed: %q", out)
	}

	if got := mustExecute(t, "--root", filepath.Join(root, "missing"), "list"); got != "" {
		t.Fatalf("missing root list = %q", got)
	}
}

func TestKeygenAndEncryptedSession(t *testing.T) {
	cfgDir := isolateEnv(t)
	root := t.TempDir()
	keyPath := filepath.Join(cfgDir, "keys", "session.pem")

	if out := mustExecute(t, "keygen", "--out", keyPath); !strings.Contains(out, "wrote session key") {
		t.Fatalf("keygen output = %q", out)
	}
	if out := mustExecute(t, "keygen", "--out", keyPath); !strings.Contains(out, "already present") {
		t.Fatalf("second keygen output = %q", out)
	}

	mustExecute(t, "--root", root, "--key-file", keyPath, "set", "abc", "card", "4111-plaintext")
	raw, err := os.ReadFile(filepath.Join(root, "abc"))
	if err != nil {
		t.Fatalf("read session: %v", err)
	}
	if bytes.Contains(raw, []byte("4111-plaintext")) {
		t.Fatal("session stored in plaintext")
	}
	if got := mustExecute(t, "--root", root, "--key-file", keyPath, "get", "abc", "card"); got != "4111-plaintext\n" {
		t.Fatalf("decrypted get = %q", got)
	}
	if got := mustExecute(t, "--root", root, "get", "abc", "card", "--default", "locked"); got != "locked\n" {
		t.Fatalf("get without key = %q", got)
	}
}

func TestConfigGen(t *testing.T) {
	cfgDir := isolateEnv(t)

	out := mustExecute(t, "config", "gen", "--stdout")
	var parsed configDefaults
	if err := yaml.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("parse generated yaml: %v", err)
	}
	if parsed.Codec != "msgpack" || parsed.LockTimeout != "2s" || parsed.App != "filesession" {
		t.Fatalf("unexpected defaults: %+v", parsed)
	}

	mustExecute(t, "config", "gen")
	if _, err := os.Stat(filepath.Join(cfgDir, "config.yaml")); err != nil {
		t.Fatalf("expected config in config dir: %v", err)
	}
	if _, _, err := executeRootCommand(t, "config", "gen"); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected overwrite refusal, got %v", err)
	}
	mustExecute(t, "config", "gen", "--force")
	if _, _, err := executeRootCommand(t, "config", "gen", "--stdout", "--out", "x.yaml"); err == nil {
		t.Fatal("expected --stdout/--out conflict")
	}
}

func TestInvalidLogLevel(t *testing.T) {
	isolateEnv(t)

	if _, _, err := executeRootCommand(t, "--log-level", "loud", "new-id"); err == nil || !strings.Contains(err.Error(), "invalid log level") {
		t.Fatalf("expected log level error, got %v", err)
	}
	mustExecute(t, "--log-level", "debug", "new-id")
}

func TestVersionCommand(t *testing.T) {
	isolateEnv(t)

	if got, want := mustExecute(t, "version"), version.Module()+" "+version.Current()+"\n"; got != want {
		t.Fatalf("version = %q want %q", got, want)
	}
	if got, want := mustExecute(t, "version", "--short"), version.Current()+"\n"; got != want {
		t.Fatalf("version --short = %q want %q", got, want)
	}
}

func TestWatchReportsSessionFiles(t *testing.T) {
	isolateEnv(t)
	root := t.TempDir()

	cmd := newRootCommand(pslog.NewStructured(context.Background(), io.Discard))
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--root", root, "watch", "--max-events", "1"})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	for i := 0; ; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("watch: %v", err)
			}
			line := strings.TrimSpace(stdout.String())
			if !strings.Contains(line, "\ts") || strings.Contains(line, "\n") {
				t.Fatalf("unexpected watch output %q", stdout.String())
			}
			return
		case <-time.After(25 * time.Millisecond):
			_ = os.WriteFile(filepath.Join(root, fmt.Sprintf("s%d%s", i, filelock.Suffix)), nil, 0o600)
			_ = os.WriteFile(filepath.Join(root, fmt.Sprintf("s%d", i)), []byte("x"), 0o600)
		}
	}
}
