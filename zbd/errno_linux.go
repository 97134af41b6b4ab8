//go:build linux

package zbd

import "golang.org/x/sys/unix"

var (
	errEIO       error = unix.EIO
	errEREMOTEIO error = unix.EREMOTEIO
)
