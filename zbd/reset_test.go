package zbd

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeResetDevice is a DeviceInfo stub that only needs to record
// ResetZones calls; ResetZones and ResetRange never consult Model/Size/
// ReportZones directly (the caller already knows the table's Model).
type fakeResetDevice struct {
	resets     [][2]int64 // [sector, nrSectors] per call
	failSector int64      // ResetZones(failSector, ...) returns an error; 0 disables
	onReset    func()     // called at the start of every ResetZones call if non-nil
}

func (d *fakeResetDevice) Model() (ZoneModel, error)   { return ZoneModelHostManaged, nil }
func (d *fakeResetDevice) Size() (int64, error)        { return 0, nil }
func (d *fakeResetDevice) ReportZones(int64, int) ([]ReportedZone, error) {
	return nil, nil
}
func (d *fakeResetDevice) ResetZones(sector, nrSectors int64) error {
	if d.onReset != nil {
		d.onReset()
	}
	if d.failSector != 0 && sector == d.failSector {
		return fmt.Errorf("simulated ioctl failure")
	}
	d.resets = append(d.resets, [2]int64{sector, nrSectors})
	return nil
}

func TestResetRangeUpdatesInMemoryStateAndIssuesIoctl(t *testing.T) {
	zt := newTestTable(t, 4, 1024)
	zt.Model = ZoneModelHostManaged
	for i := 0; i < zt.NrZones; i++ {
		zt.ZoneAt(i).wp = zt.ZoneAt(i).Start + 500
		zt.ZoneAt(i).verifyBlock = 7
	}
	dev := &fakeResetDevice{}

	err := ResetRange(zt, dev, 0, 2*1024, discardLogger)
	require.NoError(t, err)
	require.Equal(t, [][2]int64{{0, 2048}}, dev.resets)

	require.Equal(t, zt.ZoneAt(0).Start, zt.ZoneAt(0).WP())
	require.Equal(t, zt.ZoneAt(1).Start, zt.ZoneAt(1).WP())
	require.Equal(t, int64(0), zt.ZoneAt(0).verifyBlock)
	// zones outside the reset range are untouched.
	require.Equal(t, zt.ZoneAt(2).Start+500, zt.ZoneAt(2).WP())
}

func TestResetRangeSkipsIoctlForNonZonedDevice(t *testing.T) {
	zt := newTestTable(t, 2, 1024)
	zt.Model = ZoneModelNone
	zt.ZoneAt(0).wp = zt.ZoneAt(0).Start + 500
	dev := &fakeResetDevice{}

	err := ResetRange(zt, dev, 0, 1024, discardLogger)
	require.NoError(t, err)
	require.Empty(t, dev.resets)
	require.Equal(t, zt.ZoneAt(0).Start, zt.ZoneAt(0).WP())
}

func TestResetZonesCoalescesContiguousRun(t *testing.T) {
	zt := newTestTable(t, 6, 1024)
	zt.Model = ZoneModelHostManaged
	// zones 1,2,3 need resetting (non-empty wp); 0,4,5 are already empty.
	for _, i := range []int{1, 2, 3} {
		zt.ZoneAt(i).wp = zt.ZoneAt(i).Start + 200
	}
	dev := &fakeResetDevice{}

	err := ResetZones(zt, dev, 0, 6, true, true, 4096, discardLogger)
	require.NoError(t, err)

	// one coalesced call covering zones 1-3, not three separate calls.
	require.Equal(t, [][2]int64{{zt.ZoneAt(1).Start, 3 * 1024}}, dev.resets)
	for _, i := range []int{1, 2, 3} {
		require.Equal(t, zt.ZoneAt(i).Start, zt.ZoneAt(i).WP())
	}
}

func TestResetZonesBreaksRunOnNonSequentialZone(t *testing.T) {
	zt := newTestTable(t, 5, 1024)
	zt.Model = ZoneModelHostManaged
	for i := 0; i < zt.NrZones; i++ {
		zt.ZoneAt(i).wp = zt.ZoneAt(i).Start + 200
	}
	// zone 2 is conventional and breaks the contiguous run into two.
	zt.ZoneAt(2).Type = ZoneTypeConventional
	dev := &fakeResetDevice{}

	err := ResetZones(zt, dev, 0, 5, true, true, 4096, discardLogger)
	require.NoError(t, err)
	require.ElementsMatch(t, [][2]int64{
		{zt.ZoneAt(0).Start, 2 * 1024},
		{zt.ZoneAt(3).Start, 2 * 1024},
	}, dev.resets)
}

func TestResetZonesAllZonesFalseOnlyResetsUnalignedWP(t *testing.T) {
	zt := newTestTable(t, 3, 1024)
	zt.Model = ZoneModelHostManaged
	// zone 0's wp is a multiple of minBS sectors (4096 bytes = 8 sectors):
	// not reset. zone 1's wp is not a multiple: reset.
	minBS := int64(4096)
	zt.ZoneAt(0).wp = zt.ZoneAt(0).Start + 16 // aligned
	zt.ZoneAt(1).wp = zt.ZoneAt(1).Start + 10 // unaligned
	dev := &fakeResetDevice{}

	err := ResetZones(zt, dev, 0, 2, false, true, minBS, discardLogger)
	require.NoError(t, err)
	require.Equal(t, [][2]int64{{zt.ZoneAt(1).Start, 1024}}, dev.resets)
}

func TestResetZonesAllZonesFalseSkipsWhenNotWriting(t *testing.T) {
	zt := newTestTable(t, 2, 1024)
	zt.Model = ZoneModelHostManaged
	zt.ZoneAt(0).wp = zt.ZoneAt(0).Start + 10 // unaligned, would qualify if writing
	dev := &fakeResetDevice{}

	err := ResetZones(zt, dev, 0, 2, false, false, 4096, discardLogger)
	require.NoError(t, err)
	require.Empty(t, dev.resets)
}

func TestResetZonesHoldsEveryZoneLockForWholeWalk(t *testing.T) {
	zt := newTestTable(t, 3, 1024)
	zt.Model = ZoneModelHostManaged
	for i := 0; i < zt.NrZones; i++ {
		zt.ZoneAt(i).wp = zt.ZoneAt(i).Start + 200
	}
	// While the coalesced reset ioctl runs, every zone of the walk must
	// still be locked, so TryLock fails on each of them. Afterwards all
	// three zones are reset and every lock is free again.
	heldDuringReset := true
	dev := &fakeResetDevice{}
	dev.onReset = func() {
		for i := 0; i < zt.NrZones; i++ {
			if zt.ZoneAt(i).mutex.TryLock() {
				heldDuringReset = false
				zt.ZoneAt(i).mutex.Unlock()
			}
		}
	}

	err := ResetZones(zt, dev, 0, 3, true, true, 4096, discardLogger)
	require.NoError(t, err)
	require.True(t, heldDuringReset)
	for i := 0; i < zt.NrZones; i++ {
		require.Equal(t, zt.ZoneAt(i).Start, zt.ZoneAt(i).WP())
		zt.ZoneAt(i).mutex.Lock() // would block forever if still held
		zt.ZoneAt(i).mutex.Unlock()
	}
}

func TestResetZonesClampsEndToNrZones(t *testing.T) {
	zt := newTestTable(t, 2, 1024)
	zt.Model = ZoneModelHostManaged
	zt.ZoneAt(0).wp = zt.ZoneAt(0).Start + 200
	dev := &fakeResetDevice{}

	err := ResetZones(zt, dev, 0, 100, true, true, 4096, discardLogger)
	require.NoError(t, err)
	require.Equal(t, [][2]int64{{zt.ZoneAt(0).Start, 1024}}, dev.resets)
}

func TestResetRangeReturnsIoctlErrorOnDeviceFailure(t *testing.T) {
	zt := newTestTable(t, 2, 1024)
	zt.Model = ZoneModelHostManaged
	dev := &fakeResetDevice{failSector: zt.ZoneAt(1).Start}

	err := ResetRange(zt, dev, zt.ZoneAt(1).Start, 1024, discardLogger)
	var ioctlErr *IoctlError
	require.ErrorAs(t, err, &ioctlErr)
	require.Empty(t, dev.resets)
}

func TestFileResetCoversZonePartiallyOverlappedByRangeEnd(t *testing.T) {
	zt := newTestTable(t, 4, 1024) // zones at sector 0,1024,2048,3072
	zt.Model = ZoneModelHostManaged
	for i := 0; i < zt.NrZones; i++ {
		zt.ZoneAt(i).wp = zt.ZoneAt(i).Start + 200
	}
	dev := &fakeResetDevice{}

	job := NewJob(Config{ZoneMode: "zbd", Verify: true}, NewRegistry())
	// range ends 50 sectors into zone 2 (non-aligned): zone 2 must still
	// be covered by file_reset's [zb, ze) walk.
	f := &File{Path: "test", Offset: 0, IOSize: (2*1024 + 50) << 9, Writing: true}
	f.table = zt
	job.AddFile(f)

	err := FileReset(job, f, dev, discardLogger)
	require.NoError(t, err)
	require.Equal(t, [][2]int64{{0, 3 * 1024}}, dev.resets)
}
