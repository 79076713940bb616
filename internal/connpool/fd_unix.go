//go:build !windows
// +build !windows

// File: internal/connpool/fd_unix.go
package connpool

import "syscall"

// Close releases the underlying file descriptor attached to a sendfile job.
func (f *FileHandle) Close() error {
	if f == nil {
		return nil
	}
	return syscall.Close(int(f.FD))
}
