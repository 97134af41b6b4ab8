//go:build !linux

package zbd

import (
	"errors"
	"os"
)

// ErrUnsupportedPlatform is returned by sysDeviceInfo methods on
// platforms without BLKREPORTZONE/BLKRESETZONE. The zoned-model
// detection deliberately still succeeds (reporting ZoneModelNone) so
// tests driving only synthetic/non-zoned tables work on every platform.
var ErrUnsupportedPlatform = errors.New("zbd: zone report/reset ioctls are only implemented on linux")

type sysDeviceInfo struct {
	path string
	file *os.File
}

// OpenDeviceInfo opens path for size discovery. Zone report/reset calls
// fail with ErrUnsupportedPlatform outside linux.
func OpenDeviceInfo(path string) (*sysDeviceInfo, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &sysDeviceInfo{path: path, file: f}, nil
}

func (d *sysDeviceInfo) Close() error { return d.file.Close() }

func (d *sysDeviceInfo) Model() (ZoneModel, error) { return ZoneModelNone, nil }

func (d *sysDeviceInfo) Size() (int64, error) {
	fi, err := d.file.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (d *sysDeviceInfo) ReportZones(startSector int64, maxZones int) ([]ReportedZone, error) {
	return nil, ErrUnsupportedPlatform
}

func (d *sysDeviceInfo) ResetZones(sector, nrSectors int64) error {
	return ErrUnsupportedPlatform
}
