package zbd

import "testing"

import "github.com/stretchr/testify/assert"
import "github.com/stretchr/testify/require"

func newTestTable(t *testing.T, nrZones int, zoneSizeSectors int64) *ZoneTable {
	t.Helper()
	zones := make([]*Zone, nrZones+1)
	for i := 0; i < nrZones; i++ {
		start := int64(i) * zoneSizeSectors
		zones[i] = &Zone{Start: start, Type: ZoneTypeSeqwriteReq, cond: ZoneCondEmpty, wp: start}
	}
	zones[nrZones] = &Zone{Start: int64(nrZones) * zoneSizeSectors, Type: ZoneTypeConventional, cond: ZoneCondNotWP}
	return &ZoneTable{
		ZoneSize:     zoneSizeSectors,
		zoneSizeLog2: log2IfPowerOfTwo(zoneSizeSectors),
		NrZones:      nrZones,
		Zones:        zones,
		Model:        ZoneModelNone,
	}
}

func TestZoneIndexOfClampsToSentinel(t *testing.T) {
	zt := newTestTable(t, 4, 1024) // 1024 sectors = 512KiB zones

	require.Equal(t, 0, zt.ZoneIndexOf(0))
	require.Equal(t, 1, zt.ZoneIndexOf(1024<<9))
	require.Equal(t, 3, zt.ZoneIndexOf(3*1024<<9+100))
	// past the last real zone clamps to the sentinel index, never panics
	require.Equal(t, 4, zt.ZoneIndexOf(100*1024<<9))
}

func TestZoneIndexOfAgreesShiftVsDivision(t *testing.T) {
	shiftTable := newTestTable(t, 8, 1024) // power-of-two zone size: uses the shift path
	divTable := newTestTable(t, 8, 1024)
	divTable.zoneSizeLog2 = noLog2 // force the division fallback for the same geometry

	for _, sectors := range []int64{0, 500, 1024, 1999, 4096, 7999} {
		offset := sectors << 9
		assert.Equal(t, divTable.ZoneIndexOf(offset), shiftTable.ZoneIndexOf(offset))
	}
}

func TestSentinelGeometryInvariant(t *testing.T) {
	zt := newTestTable(t, 4, 1024)
	for i := 0; i < zt.NrZones; i++ {
		require.Equal(t, zt.ZoneAt(i).Start+zt.ZoneSize, zt.ZoneAt(i+1).Start)
	}
	require.Equal(t, int64(4*1024), zt.Sentinel().Start)
}

func TestIsValidOffset(t *testing.T) {
	require.True(t, isValidOffset(0, 4096, 0))
	require.True(t, isValidOffset(0, 4096, 4095))
	require.False(t, isValidOffset(0, 4096, 4096))
	require.False(t, isValidOffset(100, 4096, 50))
}

func TestRegistrySharesByDevicePath(t *testing.T) {
	reg := NewRegistry()
	builds := 0
	build := func() (*ZoneTable, error) {
		builds++
		return newTestTable(t, 2, 1024), nil
	}

	zt1, err := reg.Acquire("/dev/fake0", build)
	require.NoError(t, err)
	zt2, err := reg.Acquire("/dev/fake0", build)
	require.NoError(t, err)

	require.Same(t, zt1, zt2)
	require.Equal(t, 1, builds)
	require.Equal(t, 2, zt1.Refcount())

	reg.Release("/dev/fake0")
	require.Equal(t, 1, zt1.Refcount())
	reg.Release("/dev/fake0")

	zt3, err := reg.Acquire("/dev/fake0", build)
	require.NoError(t, err)
	require.NotSame(t, zt1, zt3)
	require.Equal(t, 2, builds)
}
