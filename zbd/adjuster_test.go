package zbd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newAdjusterForTest(t *testing.T, nrZones int, zoneSizeSectors int64) (*Adjuster, *File) {
	t.Helper()
	zt := newTestTable(t, nrZones, zoneSizeSectors)
	job := NewJob(Config{
		ZoneMode: "zbd",
		Limits: map[Direction]DirectionLimits{
			DirRead:  {MinBS: 4096, MaxBS: 4096},
			DirWrite: {MinBS: 4096, MaxBS: 4096},
		},
	}, NewRegistry())
	f := &File{Path: "test", DevicePath: "test", Offset: 0, IOSize: int64(nrZones) * zoneSizeSectors << 9, Writing: true}
	f.table = zt
	job.AddFile(f)
	return &Adjuster{Job: job, Log: discardLogger}, f
}

// Scenario 1: aligned sequential write.
func TestAdjustBlockAlignedSequentialWrite(t *testing.T) {
	a, f := newAdjusterForTest(t, 1, 524288) // 256MiB zone
	u := &IOUnit{File: f, Direction: DirWrite, Offset: 0, BufLen: 1 << 20}

	res := a.AdjustBlock(context.Background(), u)
	require.Equal(t, SequentialAccept, res.Outcome)
	require.Equal(t, int64(0), res.Offset)
	require.Equal(t, int64(1<<20), res.BufLen)

	res.Reservation.Complete(true)
	require.Equal(t, int64(2048), f.table.ZoneAt(0).WP())
}

// Scenario 2: mid-zone write realignment.
func TestAdjustBlockMidZoneWriteRealignment(t *testing.T) {
	a, f := newAdjusterForTest(t, 1, 524288)
	f.table.ZoneAt(0).wp = 100

	u := &IOUnit{File: f, Direction: DirWrite, Offset: 50 << 9, BufLen: 1 << 20}
	res := a.AdjustBlock(context.Background(), u)
	require.Equal(t, SequentialAccept, res.Outcome)
	require.Equal(t, int64(100<<9), res.Offset)
	require.Equal(t, int64(1<<20), res.BufLen)

	res.Reservation.Complete(true)
	require.Equal(t, int64(100+2048), f.table.ZoneAt(0).WP())
}

// Scenario 3: write crossing a zone boundary shrinks below min_bs -> EOF.
func TestAdjustBlockWriteCrossingBoundaryEOF(t *testing.T) {
	a, f := newAdjusterForTest(t, 2, 524288)
	f.table.ZoneAt(0).wp = 524287 // one sector left in the zone

	u := &IOUnit{File: f, Direction: DirWrite, Offset: 524287 << 9, BufLen: 4096}
	res := a.AdjustBlock(context.Background(), u)
	require.Equal(t, EOF, res.Outcome)
	require.Nil(t, res.Reservation)
}

// Scenario 6: verify replay walks verify_block deterministically.
func TestAdjustBlockVerifyReplay(t *testing.T) {
	a, f := newAdjusterForTest(t, 4, 524288)
	a.Job.State = RunVerifying
	z3 := f.table.ZoneAt(3)
	z3.verifyBlock = 2
	z3.wp = z3.Start + 524288 // full, so the replay path is reached unconditionally

	u := &IOUnit{File: f, Direction: DirRead, Offset: z3.Start << 9, BufLen: 4096}
	res := a.AdjustBlock(context.Background(), u)
	require.Equal(t, SequentialAccept, res.Outcome)
	require.Equal(t, (z3.Start<<9)+8192, res.Offset)
	require.Equal(t, int64(3), z3.verifyBlock)

	res.Reservation.Complete(true)
}

// Writing beyond zone_size_bytes is always rejected.
func TestAdjustBlockBufLenLargerThanZoneEOF(t *testing.T) {
	a, f := newAdjusterForTest(t, 1, 1024)
	u := &IOUnit{File: f, Direction: DirWrite, Offset: 0, BufLen: (1024 << 9) + 1}
	res := a.AdjustBlock(context.Background(), u)
	require.Equal(t, EOF, res.Outcome)
}

// A conventional zone is never locked and never gets a reservation.
func TestAdjustBlockConventionalZoneNoLock(t *testing.T) {
	a, f := newAdjusterForTest(t, 1, 1024)
	sentinelIdx := f.table.NrZones
	f.table.Zones[sentinelIdx].Type = ZoneTypeConventional

	u := &IOUnit{File: f, Direction: DirRead, Offset: f.table.Sentinel().Start << 9, BufLen: 512}
	res := a.AdjustBlock(context.Background(), u)
	require.Equal(t, ConventionalAccept, res.Outcome)
	require.Nil(t, res.Reservation)
}

// Exactly one completion releases the zone's mutex: a second Complete
// call must be a harmless no-op, not a double-unlock panic.
func TestZoneReservationCompleteIsSingleRelease(t *testing.T) {
	a, f := newAdjusterForTest(t, 1, 524288)
	u := &IOUnit{File: f, Direction: DirWrite, Offset: 0, BufLen: 4096}
	res := a.AdjustBlock(context.Background(), u)
	require.Equal(t, SequentialAccept, res.Outcome)

	res.Reservation.Complete(true)
	require.NotPanics(t, func() { res.Reservation.Complete(true) })
}

// Trim on a sequential zone keeps the completion hook attached so the
// lock is released uniformly even though trim itself is a no-op.
func TestAdjustBlockTrimAttachesReservation(t *testing.T) {
	a, f := newAdjusterForTest(t, 1, 1024)
	u := &IOUnit{File: f, Direction: DirTrim, Offset: 0, BufLen: 512}
	res := a.AdjustBlock(context.Background(), u)
	require.Equal(t, SequentialAccept, res.Outcome)
	require.NotNil(t, res.Reservation)
	res.Reservation.Complete(true)
}

// A write that lands on a full zone triggers a synchronous reset,
// reports it via ResetPerformed, and calls through to the configured
// Quiescer before touching zone state.
func TestAdjustBlockFullZoneResetCallsQuiescer(t *testing.T) {
	a, f := newAdjusterForTest(t, 1, 1024)
	z0 := f.table.ZoneAt(0)
	z0.wp = z0.Start + f.table.ZoneSize // full

	quiesced := false
	a.Quiesce = quiescerFunc(func(ctx context.Context) error {
		quiesced = true
		return nil
	})

	u := &IOUnit{File: f, Direction: DirWrite, Offset: 0, BufLen: 4096}
	res := a.AdjustBlock(context.Background(), u)
	require.True(t, quiesced)
	require.True(t, res.ResetPerformed)
	require.Equal(t, SequentialAccept, res.Outcome)
	require.Equal(t, int64(0), res.Offset)

	res.Reservation.Complete(true)
}

// A deferred reset_zone flag also triggers the synchronous reset path,
// even though the zone still has room for this write.
func TestAdjustBlockDeferredResetFlagTriggersReset(t *testing.T) {
	a, f := newAdjusterForTest(t, 1, 524288)
	z0 := f.table.ZoneAt(0)
	z0.wp = 100
	z0.MarkForReset()

	u := &IOUnit{File: f, Direction: DirWrite, Offset: 0, BufLen: 4096}
	res := a.AdjustBlock(context.Background(), u)
	require.True(t, res.ResetPerformed)
	require.Equal(t, SequentialAccept, res.Outcome)
	require.Equal(t, int64(0), res.Offset) // reset put wp back at start
	require.False(t, z0.resetZone)

	res.Reservation.Complete(true)
}

// A job's own Quiesce implementation drains exactly the in-flight I/O
// tracked via BeginIO/EndIO on its files.
func TestJobQuiesceWaitsForInFlightIO(t *testing.T) {
	job := NewJob(Config{ZoneMode: "zbd"}, NewRegistry())
	f := &File{Path: "test"}
	job.AddFile(f)

	f.BeginIO()
	done := make(chan struct{})
	go func() {
		err := job.Quiesce(context.Background())
		require.NoError(t, err)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Quiesce returned before in-flight I/O completed")
	case <-time.After(20 * time.Millisecond):
	}

	f.EndIO()
	<-done
}

// Quiesce respects context cancellation instead of blocking forever.
func TestJobQuiesceRespectsContextCancellation(t *testing.T) {
	job := NewJob(Config{ZoneMode: "zbd"}, NewRegistry())
	f := &File{Path: "test"}
	job.AddFile(f)
	f.BeginIO() // never ended

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := job.Quiesce(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	f.EndIO()
}

// quiescerFunc adapts a plain function to the Quiescer interface for
// tests.
type quiescerFunc func(ctx context.Context) error

func (f quiescerFunc) Quiesce(ctx context.Context) error { return f(ctx) }

func TestFindZoneSkipsOfflineZones(t *testing.T) {
	a, f := newAdjusterForTest(t, 6, 1024)
	zt := f.table
	// zone under test is offline with no readable data; neighbors z1=2
	// has enough written data below its wp.
	zt.ZoneAt(1).cond = ZoneCondOffline
	zt.ZoneAt(2).wp = zt.ZoneAt(2).Start + 100

	sub, idx := a.findZone(zt, 1, true, 4096, 0, zt.NrZones)
	require.NotNil(t, sub)
	require.Equal(t, 2, idx)
	sub.mutex.Unlock()

	// an offline neighbor is rejected even with data below its wp; the
	// walk moves on to zone 3.
	zt.ZoneAt(2).cond = ZoneCondOffline
	zt.ZoneAt(3).wp = zt.ZoneAt(3).Start + 100
	sub, idx = a.findZone(zt, 1, true, 4096, 0, zt.NrZones)
	require.NotNil(t, sub)
	require.Equal(t, 3, idx)
	sub.mutex.Unlock()
}
