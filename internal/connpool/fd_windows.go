//go:build windows
// +build windows

// File: internal/connpool/fd_windows.go
package connpool

// Close is a no-op stub: this endpoint targets Linux deployments (epoll),
// same as reactor's windows fallback.
func (f *FileHandle) Close() error { return nil }
