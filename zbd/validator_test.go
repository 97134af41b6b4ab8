package zbd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateDirectIORejectsBufferedWriterOnHostManaged(t *testing.T) {
	zt := newTestTable(t, 2, 1024)
	zt.Model = ZoneModelHostManaged
	f := &File{Path: "f0", Writing: true, Direct: false}
	f.table = zt
	job := &Job{Files: []*File{f}}

	err := validateDirectIO(job)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestValidateDirectIOAllowsDirectWriterOnHostManaged(t *testing.T) {
	zt := newTestTable(t, 2, 1024)
	zt.Model = ZoneModelHostManaged
	f := &File{Path: "f0", Writing: true, Direct: true}
	f.table = zt
	job := &Job{Files: []*File{f}}

	require.NoError(t, validateDirectIO(job))
}

func TestValidateDirectIOIgnoresReaders(t *testing.T) {
	zt := newTestTable(t, 2, 1024)
	zt.Model = ZoneModelHostManaged
	f := &File{Path: "f0", Writing: false, Direct: false}
	f.table = zt
	job := &Job{Files: []*File{f}}

	require.NoError(t, validateDirectIO(job))
}

// Regression test for the off-by-one in the seq-zone detection loop: a
// range that ends partway into a sequential zone (not zone-aligned)
// must still be recognized and rounded, even though an *exclusive*
// ZoneIndexOf(end) bound would have placed that zone just past the
// loop's scan window.
func TestValidateRangeDetectsUnalignedEndInsideSequentialZone(t *testing.T) {
	zt := newTestTable(t, 4, 1024) // zones at sectors 0,1024,2048,3072
	zt.ZoneAt(0).Type = ZoneTypeConventional
	zt.ZoneAt(1).Type = ZoneTypeConventional
	// zone 2 is the only SEQWRITE_REQ zone touched, and the range ends
	// 50 sectors into it.
	f := &File{Path: "f0", Offset: 0, IOSize: (2*1024 + 50) << 9}
	f.table = zt

	err := validateRange(f)
	require.NoError(t, err)
	// file_offset was already zone-aligned (0); io_size truncates down
	// to the zone-2 boundary since the range end wasn't aligned.
	require.Equal(t, int64(0), f.Offset)
	require.Equal(t, int64(2*1024)<<9, f.IOSize)
}

func TestValidateRangeNoOpWhenNoSequentialZoneTouched(t *testing.T) {
	zt := newTestTable(t, 4, 1024)
	for i := 0; i < zt.NrZones; i++ {
		zt.ZoneAt(i).Type = ZoneTypeConventional
	}
	f := &File{Path: "f0", Offset: 100, IOSize: 4096}
	f.table = zt

	err := validateRange(f)
	require.NoError(t, err)
	require.Equal(t, int64(100), f.Offset)
	require.Equal(t, int64(4096), f.IOSize)
}

func TestValidateRangeAdvancesUnalignedOffsetToNextZone(t *testing.T) {
	zt := newTestTable(t, 4, 1024)
	f := &File{Path: "f0", Offset: 50 << 9, IOSize: (4*1024 - 50) << 9}
	f.table = zt

	err := validateRange(f)
	require.NoError(t, err)
	require.Equal(t, int64(1024)<<9, f.Offset) // rounded up to zone 1's start
	require.Equal(t, int64(3*1024)<<9, f.IOSize) // zones 1,2,3
}

func TestValidateRangeFailsWhenOffsetRoundsPastEnd(t *testing.T) {
	zt := newTestTable(t, 4, 1024)
	// offset lands inside zone 0 and the range doesn't reach zone 1's
	// start at all: rounding forward empties the range.
	f := &File{Path: "f0", Offset: 50 << 9, IOSize: 100 << 9}
	f.table = zt

	err := validateRange(f)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestValidateRangeFailsWhenEndTruncatesToEmptyRange(t *testing.T) {
	zt := newTestTable(t, 4, 1024)
	// offset is zone-aligned but the range ends before completing a
	// single zone: truncating down to the nearest zone boundary below
	// end collapses the range to empty.
	f := &File{Path: "f0", Offset: 0, IOSize: 100 << 9}
	f.table = zt

	err := validateRange(f)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestValidateRangeAcceptsExactZoneAlignedRange(t *testing.T) {
	zt := newTestTable(t, 4, 1024)
	f := &File{Path: "f0", Offset: 1024 << 9, IOSize: 2 * 1024 << 9}
	f.table = zt

	err := validateRange(f)
	require.NoError(t, err)
	require.Equal(t, int64(1024)<<9, f.Offset)
	require.Equal(t, int64(2*1024)<<9, f.IOSize)
}

func TestValidateBlockSizeRejectsNonDividingBlockSize(t *testing.T) {
	zt := newTestTable(t, 1, 1001) // zone bytes = 1001<<9 = 512512, not a multiple of 4096
	f := &File{Path: "f0"}
	f.table = zt
	cfg := Config{Limits: map[Direction]DirectionLimits{
		DirWrite: {MinBS: 4096, MaxBS: 4096},
	}}

	err := validateBlockSize(f, cfg)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestValidateBlockSizeAcceptsDividingBlockSize(t *testing.T) {
	zt := newTestTable(t, 1, 1024) // zone bytes = 1024<<9 = 524288, divisible by 4096
	f := &File{Path: "f0"}
	f.table = zt
	cfg := Config{Limits: map[Direction]DirectionLimits{
		DirWrite: {MinBS: 4096, MaxBS: 16384},
	}}

	require.NoError(t, validateBlockSize(f, cfg))
}

func TestValidateBlockSizeSkipsUnconfiguredDirections(t *testing.T) {
	zt := newTestTable(t, 1, 1001)
	f := &File{Path: "f0"}
	f.table = zt
	cfg := Config{Limits: map[Direction]DirectionLimits{}}

	require.NoError(t, validateBlockSize(f, cfg))
}
