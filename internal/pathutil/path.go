// Package pathutil expands configured paths and validates file-name
// components derived from untrusted input.
package pathutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxNameLength bounds a single path element on common filesystems.
const MaxNameLength = 255

// ErrInvalidName reports a name that cannot be used as a single path element.
var ErrInvalidName = errors.New("pathutil: invalid name")

// ExpandUserAndEnv expands $VAR and ${VAR} tokens plus a leading "~" or "~/"
// in p. The result is not made absolute.
func ExpandUserAndEnv(p string) (string, error) {
	p = os.ExpandEnv(strings.TrimSpace(p))
	if p == "" || p[0] != '~' {
		return p, nil
	}
	if len(p) > 1 && p[1] != '/' && p[1] != '\\' {
		// ~user is left untouched.
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("pathutil: resolve home: %w", err)
	}
	if len(p) == 1 {
		return home, nil
	}
	return filepath.Join(home, p[2:]), nil
}

// ValidateName checks that name is usable verbatim as one file name inside a
// directory: non-empty, not "." or "..", no separators or NUL, at most
// MaxNameLength bytes.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, MaxNameLength)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a separator or NUL", ErrInvalidName, name)
	}
	return nil
}
