//go:build linux

package zbd

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// blkReportZone/blkResetZone mirror Linux's struct blk_zone_report and
// struct blk_zone_range from <linux/blkzoned.h>, decoded/encoded by hand
// since cgo is not available to the generated driver.
const (
	blkZoneRecordSize = 64
	blkReportHdrSize  = 16

	sizeofBlkZoneRange = 16

	blkIoctlReportZone = 0xc0101282 // _IOWR(0x12, 130, struct blk_zone_report)
	blkIoctlResetZone  = 0x40101283 // _IOW(0x12, 131, struct blk_zone_range)
)

// sysDeviceInfo implements DeviceInfo against a real Linux block device
// or a regular file acting as one, using sysfs attributes and block
// ioctls for zone discovery and reset.
type sysDeviceInfo struct {
	path string
	file *os.File
}

// OpenDeviceInfo opens path for zone discovery and reset. Callers must
// Close it when done; Init keeps it as File.Dev and FreeZoneInfo closes it.
func OpenDeviceInfo(path string) (*sysDeviceInfo, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &sysDeviceInfo{path: path, file: f}, nil
}

// Close releases the underlying file descriptor.
func (d *sysDeviceInfo) Close() error {
	return d.file.Close()
}

// Model reads /sys/dev/block/%d:%d/queue/zoned.
func (d *sysDeviceInfo) Model() (ZoneModel, error) {
	var stat unix.Stat_t
	if err := unix.Stat(d.path, &stat); err != nil {
		// Not a device node (e.g. a plain file used to simulate one);
		// treat as non-zoned.
		return ZoneModelNone, nil
	}

	major := unix.Major(uint64(stat.Rdev))
	minor := unix.Minor(uint64(stat.Rdev))
	sysfsPath := fmt.Sprintf("/sys/dev/block/%d:%d/queue/zoned", major, minor)

	raw, err := os.ReadFile(sysfsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ZoneModelNone, nil
		}
		return ZoneModelNone, err
	}

	switch strings.TrimSpace(string(raw)) {
	case "host-aware":
		return ZoneModelHostAware, nil
	case "host-managed":
		return ZoneModelHostManaged, nil
	default:
		return ZoneModelNone, nil
	}
}

// Size reports the device/file size in bytes.
func (d *sysDeviceInfo) Size() (int64, error) {
	var stat unix.Stat_t
	if err := unix.Fstat(int(d.file.Fd()), &stat); err != nil {
		return 0, err
	}
	if stat.Mode&unix.S_IFMT == unix.S_IFBLK {
		var bytes uint64
		if err := ioctlGetUint64(d.file.Fd(), unix.BLKGETSIZE64, &bytes); err != nil {
			return 0, err
		}
		return int64(bytes), nil
	}
	return stat.Size, nil
}

// ReportZones issues BLKREPORTZONE starting at startSector and decodes
// up to maxZones records.
func (d *sysDeviceInfo) ReportZones(startSector int64, maxZones int) ([]ReportedZone, error) {
	buf := make([]byte, blkReportHdrSize+maxZones*blkZoneRecordSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(startSector))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(maxZones))

	if err := ioctlPtr(d.file.Fd(), blkIoctlReportZone, unsafe.Pointer(&buf[0])); err != nil {
		return nil, err
	}

	n := binary.LittleEndian.Uint32(buf[8:12])
	out := make([]ReportedZone, 0, n)
	for i := uint32(0); i < n; i++ {
		rec := buf[blkReportHdrSize+int(i)*blkZoneRecordSize:]
		z := ReportedZone{
			Start: int64(binary.LittleEndian.Uint64(rec[0:8])),
			Len:   int64(binary.LittleEndian.Uint64(rec[8:16])),
			WP:    int64(binary.LittleEndian.Uint64(rec[16:24])),
		}
		switch rec[24] {
		case 1:
			z.Type = ZoneTypeConventional
		default:
			z.Type = ZoneTypeSeqwriteReq
		}
		switch rec[25] {
		case 0x0:
			z.Cond = ZoneCondNotWP
		case 0x1:
			z.Cond = ZoneCondEmpty
		case 0x2:
			z.Cond = ZoneCondImpOpen
		case 0x3:
			z.Cond = ZoneCondExpOpen
		case 0x4:
			z.Cond = ZoneCondClosed
		case 0xd:
			z.Cond = ZoneCondReadonly
		case 0xe:
			z.Cond = ZoneCondFull
		case 0xf:
			z.Cond = ZoneCondOffline
		default:
			z.Cond = ZoneCondNotWP
		}
		out = append(out, z)
	}
	return out, nil
}

// ResetZones issues BLKRESETZONE over [sector, sector+nrSectors).
// Partial-zone spans are not supported and are rejected by the kernel,
// surfaced here as an IoctlError.
func (d *sysDeviceInfo) ResetZones(sector, nrSectors int64) error {
	var rng [sizeofBlkZoneRange]byte
	binary.LittleEndian.PutUint64(rng[0:8], uint64(sector))
	binary.LittleEndian.PutUint64(rng[8:16], uint64(nrSectors))
	return ioctlPtr(d.file.Fd(), blkIoctlResetZone, unsafe.Pointer(&rng[0]))
}

func ioctlPtr(fd uintptr, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func ioctlGetUint64(fd uintptr, req uint, out *uint64) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(req), uintptr(unsafe.Pointer(out)))
	if errno != 0 {
		return errno
	}
	return nil
}
