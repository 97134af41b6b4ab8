package zbd

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
)

// Quiescer blocks until all in-flight I/O the caller tracks has
// completed — spec.md §4.5/§9's quiesce primitive. The Adjuster's write
// path calls it before a synchronous zone reset so the reset never
// races an outstanding asynchronous write to the same zone. *Job
// implements it against a per-file sync.WaitGroup (zbd/config.go).
type Quiescer interface {
	Quiesce(ctx context.Context) error
}

// Outcome classifies what the Adjuster decided about a candidate I/O
// unit, the Go rendering of spec.md §9's tagged-variant suggestion.
type Outcome int

const (
	// ConventionalAccept is returned for conventional-zone requests and
	// for reads explicitly permitted past the write pointer: no zone
	// mutex is taken and no completion hook is attached.
	ConventionalAccept Outcome = iota
	// SequentialAccept means a sequential zone's mutex was retained and
	// Reservation must be completed exactly once by the caller.
	SequentialAccept
	// EOF means the candidate cannot be mapped to any legal request.
	EOF
)

func (o Outcome) String() string {
	switch o {
	case ConventionalAccept:
		return "accept"
	case SequentialAccept:
		return "accept(sequential)"
	case EOF:
		return "eof"
	default:
		return "unknown"
	}
}

// AdjustResult is AdjustBlock's return value.
type AdjustResult struct {
	Outcome     Outcome
	Offset      int64 // bytes
	BufLen      int64 // bytes
	Reservation *ZoneReservation // non-nil iff Outcome == SequentialAccept

	// ResetPerformed reports whether adjustWrite had to reset this zone
	// (full or deferred-reset) before rewriting the request, so callers
	// can tally it against the triggering direction's stats.
	ResetPerformed bool
}

// ZoneReservation is the lock-handoff capability spec.md §9 calls for:
// the Adjuster locks a sequential zone and hands this value to the I/O
// unit, which must call Complete exactly once. A sync.Once turns a
// second Complete into a no-op instead of a double unlock; a
// reservation that is never completed keeps the zone locked.
type ZoneReservation struct {
	zone   *Zone
	table  *ZoneTable
	dir    Direction
	offset int64 // bytes, the offset actually used for this request
	bufLen int64 // bytes
	log    logr.Logger
	once   sync.Once
}

// Complete runs the completion hook (spec.md §4.6) and unconditionally
// releases the zone mutex, exactly once regardless of how many times or
// from how many goroutines it is called.
func (r *ZoneReservation) Complete(success bool) {
	r.once.Do(func() {
		defer r.zone.mutex.Unlock()

		if r.zone.Type != ZoneTypeSeqwriteReq {
			return
		}
		if !success {
			return
		}

		switch r.dir {
		case DirWrite:
			next := r.table.ZoneAt(r.table.ZoneIndexOf(r.offset) + 1)
			candidate := (r.offset + r.bufLen) >> 9
			if candidate > next.Start {
				candidate = next.Start
			}
			r.zone.wp = candidate
		case DirTrim:
			// spec.md §4.6: the device is expected to have reset the
			// zone as part of trim semantics.
			if r.zone.wp != r.zone.Start {
				r.log.Error(nil, "trim completion left zone write pointer non-empty",
					"zone_start", r.zone.Start, "wp", r.zone.wp)
			}
		}
	})
}

// Adjuster holds the state AdjustBlock needs across calls for one job:
// the quiesce hook and logger. It carries no per-request state; the
// device handle used for a synchronous reset comes from the candidate's
// own File, since one job's files may back onto different devices.
type Adjuster struct {
	Job     *Job
	Log     logr.Logger
	Quiesce Quiescer
}

// IOUnit is the candidate request handed to AdjustBlock.
type IOUnit struct {
	File      *File
	Direction Direction
	Offset    int64 // bytes
	BufLen    int64 // bytes
	Random    bool
}

// AdjustBlock is the central policy of spec.md §4.5, invoked once per
// candidate I/O unit prior to submission. ctx bounds the Quiescer wait
// adjustWrite may perform before a synchronous zone reset; it is
// otherwise unused.
func (a *Adjuster) AdjustBlock(ctx context.Context, u *IOUnit) AdjustResult {
	zt := u.File.table
	minBS := a.Job.Config.minBS(u.Direction)

	idx := zt.ZoneIndexOf(u.Offset)
	z := zt.ZoneAt(idx)

	if z.Type == ZoneTypeConventional {
		return AdjustResult{Outcome: ConventionalAccept, Offset: u.Offset, BufLen: u.BufLen}
	}

	if u.Direction == DirRead && a.Job.Config.ReadBeyondWP {
		z.mutex.Lock()
		offline := z.cond == ZoneCondOffline
		z.mutex.Unlock()
		if !offline {
			return AdjustResult{Outcome: ConventionalAccept, Offset: u.Offset, BufLen: u.BufLen}
		}
	}

	z.mutex.Lock()

	switch u.Direction {
	case DirRead:
		return a.adjustRead(u, zt, z, idx, minBS)
	case DirWrite:
		return a.adjustWrite(ctx, u, zt, z, idx, minBS)
	default:
		// Trim and other non-data operations: accept unchanged but keep
		// the completion hook attached so trim's empty-the-zone effect
		// is observable and the lock is released uniformly.
		return AdjustResult{
			Outcome: SequentialAccept,
			Offset:  u.Offset,
			BufLen:  u.BufLen,
			Reservation: &ZoneReservation{zone: z, table: zt, dir: u.Direction, offset: u.Offset, bufLen: u.BufLen, log: a.Log},
		}
	}
}

// adjustRead implements §4.5's Read algorithm. z's mutex is held on
// entry; every return path either keeps it held (attached to the
// returned reservation) or has already transferred/released it.
func (a *Adjuster) adjustRead(u *IOUnit, zt *ZoneTable, z *Zone, idx int, minBS int64) AdjustResult {
	if a.Job.State == RunVerifying {
		offset := (z.Start << 9) + z.verifyBlock*minBS
		z.verifyBlock++
		return AdjustResult{
			Outcome: SequentialAccept,
			Offset:  offset,
			BufLen:  u.BufLen,
			Reservation: &ZoneReservation{zone: z, table: zt, dir: DirRead, offset: offset, bufLen: u.BufLen, log: a.Log},
		}
	}

	wpBytes := z.wp << 9
	startBytes := z.Start << 9
	rangeSpan := wpBytes - startBytes - u.BufLen

	// An offline zone's wp is not meaningful, so it can never satisfy a
	// random read in place; zbd.c:869-870 zeroes the same quantity for
	// this reason and falls through to the Find-Zone substitution below.
	if u.Random && z.cond != ZoneCondOffline && rangeSpan >= 0 {
		window := wpBytes - startBytes
		offset := startBytes + (u.Offset-startBytes)%(window-u.BufLen+1)
		offset = offset / minBS * minBS
		return AdjustResult{
			Outcome: SequentialAccept,
			Offset:  offset,
			BufLen:  u.BufLen,
			Reservation: &ZoneReservation{zone: z, table: zt, dir: DirRead, offset: offset, bufLen: u.BufLen, log: a.Log},
		}
	}

	crosses := u.Offset+u.BufLen > wpBytes
	if z.cond == ZoneCondOffline || crosses {
		z.mutex.Unlock()
		zf := zt.ZoneIndexOf(u.File.Offset)
		zl := zt.ZoneIndexOf(u.File.Offset + u.File.IOSize)
		sub, _ := a.findZone(zt, idx, u.Random, minBS, zf, zl)
		if sub == nil {
			return AdjustResult{Outcome: EOF}
		}
		offset := sub.Start << 9
		if sub.wp-sub.Start < minBS>>9 {
			sub.mutex.Unlock()
			return AdjustResult{Outcome: EOF}
		}
		return AdjustResult{
			Outcome:     SequentialAccept,
			Offset:      offset,
			BufLen:      u.BufLen,
			Reservation: &ZoneReservation{zone: sub, table: zt, dir: DirRead, offset: offset, bufLen: u.BufLen, log: a.Log},
		}
	}

	return AdjustResult{
		Outcome: SequentialAccept,
		Offset:  u.Offset,
		BufLen:  u.BufLen,
		Reservation: &ZoneReservation{zone: z, table: zt, dir: DirRead, offset: u.Offset, bufLen: u.BufLen, log: a.Log},
	}
}

// adjustWrite implements §4.5's Write algorithm. z's mutex is held on
// entry. ctx bounds the Quiescer wait before a synchronous zone reset.
func (a *Adjuster) adjustWrite(ctx context.Context, u *IOUnit, zt *ZoneTable, z *Zone, idx int, minBS int64) AdjustResult {
	zoneBytes := zt.ZoneSize << 9
	if u.BufLen > zoneBytes {
		z.mutex.Unlock()
		return AdjustResult{Outcome: EOF}
	}

	full := z.wp >= z.Start+zt.ZoneSize
	resetPerformed := false
	if z.resetZone || full {
		if a.Quiesce != nil {
			if err := a.Quiesce.Quiesce(ctx); err != nil {
				a.Log.Error(err, "quiesce before synchronous zone reset failed", "zone_start", z.Start)
			}
		}
		z.resetZone = false
		if err := a.resetSingleZoneLocked(u.File, zt, z); err != nil {
			a.Log.Error(err, "synchronous single-zone reset failed before write", "zone_start", z.Start)
			z.mutex.Unlock()
			return AdjustResult{Outcome: EOF}
		}
		resetPerformed = true
	}

	offset := z.wp << 9
	if !isValidOffset(u.File.Offset, u.File.IOSize, offset) {
		z.mutex.Unlock()
		return AdjustResult{Outcome: EOF, ResetPerformed: resetPerformed}
	}

	next := zt.ZoneAt(idx + 1)
	maxLen := (next.Start << 9) - offset
	newLen := u.BufLen
	if newLen > maxLen {
		newLen = maxLen
	}
	newLen = newLen / minBS * minBS
	if newLen < minBS {
		z.mutex.Unlock()
		return AdjustResult{Outcome: EOF, ResetPerformed: resetPerformed}
	}

	return AdjustResult{
		Outcome:        SequentialAccept,
		Offset:         offset,
		BufLen:         newLen,
		Reservation:    &ZoneReservation{zone: z, table: zt, dir: DirWrite, offset: offset, bufLen: newLen, log: a.Log},
		ResetPerformed: resetPerformed,
	}
}

// resetSingleZoneLocked resets z's device state and in-memory fields
// without re-acquiring its mutex, since adjustWrite already holds it.
// dev comes from f (the file the candidate targets), not the Adjuster
// as a whole, since one job's files may back onto different devices.
func (a *Adjuster) resetSingleZoneLocked(f *File, zt *ZoneTable, z *Zone) error {
	dev := f.Dev
	if dev != nil && (zt.Model == ZoneModelHostAware || zt.Model == ZoneModelHostManaged) {
		if err := dev.ResetZones(z.Start, zt.ZoneSize); err != nil {
			return &IoctlError{Op: "BLKRESETZONE", Errno: err}
		}
	}
	z.wp = z.Start
	z.verifyBlock = 0
	return nil
}

// findZone implements §4.5's Find-Zone substitute lookup. It walks z1
// upward from zb+1 toward zl (the calling file's range end) and z2
// downward from zb-1 toward zf (the range start) — zbd.c:737-738,744
// derives zf/zl from the file's offset/io_size and bounds the search by
// them so a substitute zone is never borrowed from a different File
// sharing the same device table. Only random workloads ever try the
// downward leg at all: zbd.c drives both legs off one shared loop
// counter that, for sequential workloads, only ever advances z1.
func (a *Adjuster) findZone(zt *ZoneTable, zb int, random bool, minBS int64, zf, zl int) (*Zone, int) {
	minBSSectors := minBS >> 9
	if minBSSectors <= 0 {
		minBSSectors = 1
	}

	accept := func(z *Zone) bool {
		z.mutex.Lock()
		ok := z.cond != ZoneCondOffline && z.Start+minBSSectors <= z.wp
		if !ok {
			z.mutex.Unlock()
		}
		return ok
	}

	z1 := zb + 1
	z2 := zb - 1
	downwardLive := random

	for z1 < zl || (downwardLive && z2 >= zf) {
		if z1 < zl {
			z := zt.ZoneAt(z1)
			if accept(z) {
				return z, z1
			}
			z1++
		}
		if downwardLive && z2 >= zf {
			z := zt.ZoneAt(z2)
			if accept(z) {
				return z, z2
			}
			z2--
		}
	}
	return nil, -1
}
