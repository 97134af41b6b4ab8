package zbd

import (
	"errors"
	"io"

	"github.com/go-logr/logr"
)

// Init builds or shares a ZoneTable for every file in job and validates
// the resulting configuration. It is idempotent per file: a file that
// already has a table is skipped.
func Init(job *Job, openDevice func(path string) (DeviceInfo, error), log logr.Logger) error {
	if openDevice == nil {
		openDevice = defaultOpenDevice
	}

	for _, f := range job.Files {
		if f.table != nil {
			continue
		}

		dev, err := openDevice(f.DevicePath)
		if err != nil {
			return &ResourceError{Detail: err.Error()}
		}

		zt, err := job.registry.Acquire(f.DevicePath, func() (*ZoneTable, error) {
			return BuildZoneTable(f.DevicePath, dev, job.Config.ZoneSize, log)
		})
		if err != nil {
			return err
		}
		f.table = zt
		f.Dev = dev

		if log.V(2).Enabled() {
			log.V(2).Info("zone table ready", "device", f.DevicePath, "dump", dumpTable(zt))
		}
	}

	return Validate(job, log)
}

// defaultOpenDevice adapts OpenDeviceInfo (platform-specific) to the
// DeviceInfo-returning signature Init expects.
func defaultOpenDevice(path string) (DeviceInfo, error) {
	return OpenDeviceInfo(path)
}

// UnalignedErrnos lists the device/kernel errno values that identify a
// write rejected purely for zone-alignment reasons. This classification
// is device/kernel-defined, so it's kept as a variable, not a constant
// set, letting a caller on an unusual kernel override it.
var UnalignedErrnos = []error{errEIO, errEREMOTEIO}

// UnalignedWrite classifies err as a zone-alignment-related I/O error.
func UnalignedWrite(err error) bool {
	for _, candidate := range UnalignedErrnos {
		if errors.Is(err, candidate) {
			return true
		}
	}
	return false
}

// FreeZoneInfo decrements f's table refcount and, on last release,
// drops it from the registry. f's device handle is always closed,
// regardless of whether this was the last reference.
func FreeZoneInfo(job *Job, f *File) {
	if closer, ok := f.Dev.(io.Closer); ok && closer != nil {
		closer.Close()
	}
	f.Dev = nil

	if f.table == nil {
		return
	}
	job.registry.Release(f.DevicePath)
	f.table = nil
}
