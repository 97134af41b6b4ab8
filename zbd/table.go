package zbd

import (
	"sync"
)

// noLog2 marks a zone size that is not a power of two; zoneIndexOf falls
// back to division instead of a shift.
const noLog2 = -1

// ZoneTable is the in-memory, lock-protected description of every zone on
// one file/device, plus one sentinel zone past the end. It is shared by
// refcount across any files that reference the same underlying device
// path (see Registry).
type ZoneTable struct {
	// ZoneSize is the uniform zone length, in sectors.
	ZoneSize int64

	// zoneSizeLog2 is log2(ZoneSize<<9) when ZoneSize is a power of two,
	// else noLog2.
	zoneSizeLog2 int

	// NrZones is the number of real (non-sentinel) zones.
	NrZones int

	// Zones holds NrZones real zones followed by one sentinel whose only
	// meaningful field is Start == NrZones*ZoneSize. Keeping the
	// sentinel in the slice lets zone+1 lookups skip bounds checks.
	Zones []*Zone

	// Model is the device's zoning model.
	Model ZoneModel

	// DevicePath is the resolved path used as the registry key.
	DevicePath string

	mutex    sync.Mutex
	refcount int
}

// ZoneIndexOf converts a byte offset into a zone index, clamping to the
// sentinel. This is the branch-free "which zone is this offset in" lookup
// every other component relies on.
func (zt *ZoneTable) ZoneIndexOf(offsetBytes int64) int {
	var idx int64
	if zt.zoneSizeLog2 != noLog2 {
		idx = offsetBytes >> zt.zoneSizeLog2
	} else {
		idx = (offsetBytes >> 9) / zt.ZoneSize
	}
	if idx > int64(zt.NrZones) {
		return zt.NrZones
	}
	return int(idx)
}

// ZoneAt returns the zone (or sentinel) at idx.
func (zt *ZoneTable) ZoneAt(idx int) *Zone {
	return zt.Zones[idx]
}

// Sentinel returns the table's sentinel zone.
func (zt *ZoneTable) Sentinel() *Zone {
	return zt.Zones[zt.NrZones]
}

// acquire increments the table's refcount. Called by Registry when a new
// file attaches to an already-built table.
func (zt *ZoneTable) acquire() {
	zt.mutex.Lock()
	zt.refcount++
	zt.mutex.Unlock()
}

// release decrements the table's refcount and reports whether this was
// the last reference (in which case the caller should drop the table
// from the registry).
func (zt *ZoneTable) release() bool {
	zt.mutex.Lock()
	defer zt.mutex.Unlock()
	zt.refcount--
	return zt.refcount <= 0
}

// Refcount reports the table's current reference count, for diagnostics.
func (zt *ZoneTable) Refcount() int {
	zt.mutex.Lock()
	defer zt.mutex.Unlock()
	return zt.refcount
}

// isValidOffset reports whether offset falls within [fileOffset,
// fileOffset+ioSize) for a file sharing this table.
func isValidOffset(fileOffset, ioSize, offset int64) bool {
	return uint64(offset-fileOffset) < uint64(ioSize)
}
