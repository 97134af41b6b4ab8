//go:build !linux

package zbd

import "syscall"

var (
	errEIO       error = syscall.EIO
	errEREMOTEIO error = syscall.EIO // EREMOTEIO is Linux-specific; fall back to EIO elsewhere.
)
