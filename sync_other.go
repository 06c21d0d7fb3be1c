//go:build !linux

package filesession

import "os"

func syncFile(f *os.File) error {
	if f == nil {
		return nil
	}
	return f.Sync()
}
