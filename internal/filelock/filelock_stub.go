//go:build !unix

package filelock

import "os"

// tryLockFile is a stub on non-Unix platforms; the lock always succeeds.
func tryLockFile(f *os.File) error { return nil }

// unlockFile is a stub counterpart to tryLockFile.
func unlockFile(f *os.File) error { return nil }

func isContended(err error) bool { return false }
