/*
 *
 * jesse galley <jesse@jessegalley.net>
 */

// Package zbd adapts arbitrary read/write/trim I/O requests so that every
// issued request is legal on a host-aware or host-managed zoned block
// device and preserves the sequential-write-pointer invariant the device
// demands. The adjustment core (zone table, validator, reset engine,
// Adjuster) classifies, rewrites and bookkeeps and issues no data I/O;
// Generator is a reference driver that does perform the adjusted reads
// and writes, and CreateSimulatedDevice writes a backing file.
package zbd

import (
	"fmt"
	"sync"
)

// SectorSize is the fixed 512-byte unit all on-disk sector fields use.
const SectorSize = 512

// ZoneType describes the write discipline a zone enforces.
type ZoneType int

const (
	// ZoneTypeConventional accepts arbitrary in-place writes.
	ZoneTypeConventional ZoneType = iota
	// ZoneTypeSeqwriteReq accepts writes only at the write pointer.
	ZoneTypeSeqwriteReq
)

func (t ZoneType) String() string {
	switch t {
	case ZoneTypeConventional:
		return "conventional"
	case ZoneTypeSeqwriteReq:
		return "seqwrite_req"
	default:
		return "unknown"
	}
}

// ZoneCondition is the device-reported operational state of a zone.
type ZoneCondition int

const (
	ZoneCondNotWP ZoneCondition = iota
	ZoneCondEmpty
	ZoneCondImpOpen
	ZoneCondExpOpen
	ZoneCondClosed
	ZoneCondFull
	ZoneCondReadonly
	ZoneCondOffline
)

func (c ZoneCondition) String() string {
	switch c {
	case ZoneCondNotWP:
		return "not_wp"
	case ZoneCondEmpty:
		return "empty"
	case ZoneCondImpOpen:
		return "imp_open"
	case ZoneCondExpOpen:
		return "exp_open"
	case ZoneCondClosed:
		return "closed"
	case ZoneCondFull:
		return "full"
	case ZoneCondReadonly:
		return "readonly"
	case ZoneCondOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// ZoneModel is the device's overall zoning model.
type ZoneModel int

const (
	// ZoneModelNone is a regular block device, possibly simulating ZBD
	// semantics via a synthesized zone table.
	ZoneModelNone ZoneModel = iota
	ZoneModelHostAware
	ZoneModelHostManaged
)

func (m ZoneModel) String() string {
	switch m {
	case ZoneModelNone:
		return "none"
	case ZoneModelHostAware:
		return "host-aware"
	case ZoneModelHostManaged:
		return "host-managed"
	default:
		return "unknown"
	}
}

// Direction names the kind of I/O operation a candidate unit represents.
type Direction int

const (
	DirRead Direction = iota
	DirWrite
	DirTrim
	DirSync
)

func (d Direction) String() string {
	switch d {
	case DirRead:
		return "read"
	case DirWrite:
		return "write"
	case DirTrim:
		return "trim"
	case DirSync:
		return "sync"
	default:
		return "unknown"
	}
}

// Zone describes one device zone. All sector fields are in 512-byte units.
//
// Only wp, cond, resetZone and verifyBlock mutate after construction; every
// mutation happens with mutex held by the owner described in the package
// doc (§5 of the design: lock order is strictly ascending zone index).
type Zone struct {
	// Start is the zone's starting sector.
	Start int64

	// Type is the write discipline this zone enforces. Immutable.
	Type ZoneType

	// wp is the current write pointer in sectors. start <= wp <= start+zoneSize.
	wp int64

	// cond is the last-known operational condition.
	cond ZoneCondition

	// resetZone is a deferred-reset flag raised by external logic
	// (e.g. a caller that wants a zone emptied before the next write),
	// consumed by the Adjuster on the next write to this zone.
	resetZone bool

	// verifyBlock is the ordinal index of the next verification read.
	verifyBlock int64

	mutex sync.Mutex
}

// WP returns the zone's current write pointer, in sectors.
func (z *Zone) WP() int64 {
	z.mutex.Lock()
	defer z.mutex.Unlock()
	return z.wp
}

// Cond returns the zone's last-known operational condition.
func (z *Zone) Cond() ZoneCondition {
	z.mutex.Lock()
	defer z.mutex.Unlock()
	return z.cond
}

// MarkForReset raises the deferred-reset flag; the Adjuster clears it and
// resets the zone the next time a write lands on it.
func (z *Zone) MarkForReset() {
	z.mutex.Lock()
	defer z.mutex.Unlock()
	z.resetZone = true
}

// String renders a zone for debug logging.
func (z *Zone) String() string {
	return fmt.Sprintf("zone{start=%d wp=%d type=%s cond=%s}",
		z.Start, z.wp, z.Type, z.cond)
}
