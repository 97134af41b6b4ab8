package zbd

import (
	"github.com/go-logr/logr"
)

// ResetRange resets every zone fully contained in [sector,
// sector+nrSectors) on zt. The reset ioctl is issued only when dev is
// non-nil and zt is host-aware or host-managed; otherwise only the
// in-memory bookkeeping runs.
func ResetRange(zt *ZoneTable, dev DeviceInfo, sector, nrSectors int64, log logr.Logger) error {
	if dev != nil && (zt.Model == ZoneModelHostAware || zt.Model == ZoneModelHostManaged) {
		if err := dev.ResetZones(sector, nrSectors); err != nil {
			log.Error(err, "zone reset ioctl failed", "sector", sector, "nr_sectors", nrSectors)
			return &IoctlError{Op: "BLKRESETZONE", Errno: err}
		}
	}

	zb := zt.ZoneIndexOf(sector << 9)
	ze := zt.ZoneIndexOf((sector + nrSectors) << 9)
	for i := zb; i < ze && i < zt.NrZones; i++ {
		z := zt.ZoneAt(i)
		z.mutex.Lock()
		z.wp = z.Start
		z.verifyBlock = 0
		z.resetZone = false
		z.mutex.Unlock()
	}
	return nil
}

// needsReset reports whether z must be reset before further writes land
// on it.
func needsReset(z *Zone, allZones bool, writing bool, minBS int64) bool {
	if z.Type != ZoneTypeSeqwriteReq {
		return false
	}
	if allZones {
		return z.wp != z.Start
	}
	if !writing {
		return false
	}
	minBSSectors := minBS >> 9
	if minBSSectors <= 0 {
		minBSSectors = 1
	}
	return (z.wp-z.Start)%minBSSectors != 0
}

// ResetZones walks zones [zb, ze) on zt, coalescing contiguous runs that
// need resetting into single ResetRange calls. Every examined zone is
// locked for the duration of the walk and unlocked only once the whole
// pass completes, so no other context can mutate wp during the decision
// window.
func ResetZones(zt *ZoneTable, dev DeviceInfo, zb, ze int, allZones, writing bool, minBS int64, log logr.Logger) error {
	if ze > zt.NrZones {
		ze = zt.NrZones
	}
	if zb >= ze {
		return nil
	}

	zones := make([]*Zone, 0, ze-zb)
	for i := zb; i < ze; i++ {
		z := zt.ZoneAt(i)
		z.mutex.Lock()
		zones = append(zones, z)
	}
	defer func() {
		for _, z := range zones {
			z.mutex.Unlock()
		}
	}()

	var runStart int = -1
	var firstErr error
	flush := func(runEnd int) {
		if runStart < 0 {
			return
		}
		startSector := zt.ZoneAt(zb + runStart).Start
		endSector := zt.ZoneAt(zb+runEnd-1).Start + zt.ZoneSize
		if err := resetLockedRange(zt, dev, startSector, endSector-startSector, zones[runStart:runEnd], log); err != nil && firstErr == nil {
			firstErr = err
		}
		runStart = -1
	}

	for i, z := range zones {
		if needsReset(z, allZones, writing, minBS) {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		flush(i)
	}
	flush(len(zones))

	return firstErr
}

// resetLockedRange performs the device-ioctl + in-memory reset for a run
// of already-locked zones, without re-locking them (ResetZones holds the
// locks for the whole decision+apply window).
func resetLockedRange(zt *ZoneTable, dev DeviceInfo, sector, nrSectors int64, locked []*Zone, log logr.Logger) error {
	if dev != nil && (zt.Model == ZoneModelHostAware || zt.Model == ZoneModelHostManaged) {
		if err := dev.ResetZones(sector, nrSectors); err != nil {
			log.Error(err, "zone reset ioctl failed during coalesced reset", "sector", sector, "nr_sectors", nrSectors)
			return &IoctlError{Op: "BLKRESETZONE", Errno: err}
		}
	}
	for _, z := range locked {
		z.wp = z.Start
		z.verifyBlock = 0
		z.resetZone = false
	}
	return nil
}

// FileReset pre-resets zones that would interfere with verification
// writes. allZones is true only when the job verifies, writes, and is
// not currently replaying a verification read.
func FileReset(job *Job, f *File, dev DeviceInfo, log logr.Logger) error {
	zt := f.table
	zb := zt.ZoneIndexOf(f.Offset)
	ze := zt.ZoneIndexOf(f.Offset + f.IOSize)
	if zt.ZoneAt(ze).Start<<9 != f.Offset+f.IOSize {
		// range end falls inside zone ze, not exactly on its boundary,
		// so that zone is still covered.
		ze++
	}

	allZones := job.Config.Verify && f.Writing && job.State != RunVerifying
	minBS := job.Config.minBS(DirWrite)
	return ResetZones(zt, dev, zb, ze, allZones, f.Writing, minBS, log)
}
