package zbd

import (
	"crypto/rand"
	"fmt"
	"os"
)

// CreateSimulatedDevice materializes a flat file of size bytes to stand
// in for a zoned block device when none is available, adapted from a
// plain benchmark's fixture-file helper: reinitialize forces recreation
// even if a same-sized file is already present.
func CreateSimulatedDevice(path string, size int64, reinitialize bool) error {
	if !reinitialize && existingDeviceFileOK(path, size) {
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("zbd: create simulated device %s: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("zbd: size simulated device %s: %w", path, err)
	}

	const chunk = 4 << 20
	buf := make([]byte, chunk)
	var written int64
	for written < size {
		n := chunk
		if remaining := size - written; remaining < int64(chunk) {
			n = int(remaining)
		}
		if _, err := rand.Read(buf[:n]); err != nil {
			return fmt.Errorf("zbd: fill simulated device: %w", err)
		}
		if _, err := f.WriteAt(buf[:n], written); err != nil {
			return fmt.Errorf("zbd: write simulated device %s: %w", path, err)
		}
		written += int64(n)
	}

	return f.Sync()
}

// existingDeviceFileOK reports whether path already exists, is the
// right size, and is writable.
func existingDeviceFileOK(path string, size int64) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.Size() != size {
		return false
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
