package zbd

import (
	"fmt"
	"math/bits"

	"github.com/go-logr/logr"
)

// DeviceInfo abstracts sysfs/ioctl zone discovery, so the Builder can be
// driven against a real Linux block device or a stub in tests. Model
// and Size are consulted before any ioctl is issued; ReportZones is
// only called when Model() reports a zoned device.
type DeviceInfo interface {
	// Model reports the device's zoning model.
	Model() (ZoneModel, error)

	// Size reports the device/file size in bytes.
	Size() (int64, error)

	// ReportZones issues (or simulates) a BLKREPORTZONE ioctl starting
	// at startSector, returning up to maxZones records.
	ReportZones(startSector int64, maxZones int) ([]ReportedZone, error)

	// ResetZones issues (or simulates) a BLKRESETZONE ioctl covering
	// [sector, sector+nrSectors).
	ResetZones(sector, nrSectors int64) error
}

// ReportedZone is one record decoded from a BLKREPORTZONE reply, all
// fields in 512-byte sectors.
type ReportedZone struct {
	Start int64
	Len   int64
	WP    int64
	Type  ZoneType
	Cond  ZoneCondition
}

// BuildZoneTable discovers devicePath's zoning model and materializes a
// ZoneTable for it. requestedZoneSize is in bytes and may be zero to
// mean "derive from the device" (only valid for zoned devices;
// non-zoned devices must supply a size).
func BuildZoneTable(devicePath string, dev DeviceInfo, requestedZoneSize int64, log logr.Logger) (*ZoneTable, error) {
	model, err := dev.Model()
	if err != nil {
		return nil, &IoctlError{Op: "zoned-model-lookup", Errno: err}
	}

	switch model {
	case ZoneModelHostAware, ZoneModelHostManaged:
		return buildZonedTable(devicePath, dev, model, requestedZoneSize, log)
	default:
		return buildSyntheticTable(devicePath, dev, requestedZoneSize, log)
	}
}

// buildZonedTable issues BLKREPORTZONE iteratively from sector 0 until
// every zone has been read. Used for host-aware/host-managed devices.
func buildZonedTable(devicePath string, dev DeviceInfo, model ZoneModel, requestedZoneSize int64, log logr.Logger) (*ZoneTable, error) {
	size, err := dev.Size()
	if err != nil {
		return nil, &IoctlError{Op: "stat", Errno: err}
	}

	const reportBatch = 4096

	first, err := dev.ReportZones(0, reportBatch)
	if err != nil {
		return nil, &IoctlError{Op: "BLKREPORTZONE", Errno: err}
	}
	if len(first) < 1 {
		return nil, &GeometryError{File: devicePath, Detail: "device reported zero zones"}
	}

	zoneSizeSectors := first[0].Len
	nrZones := int((size>>9 + zoneSizeSectors - 1) / zoneSizeSectors)

	if requestedZoneSize != 0 {
		if requestedZoneSize != zoneSizeSectors<<9 {
			return nil, &ConfigError{
				File:   devicePath,
				Reason: fmt.Sprintf("job parameter zone_size %d does not match disk zone size %d", requestedZoneSize, zoneSizeSectors<<9),
			}
		}
	}

	zones := make([]*Zone, nrZones+1)
	var startSector int64
	reported := first
	idx := 0
	for idx < nrZones {
		for _, rz := range reported {
			if idx >= nrZones {
				break
			}
			z := &Zone{Start: rz.Start, Type: rz.Type, cond: rz.Cond}
			switch rz.Cond {
			case ZoneCondNotWP:
				z.wp = rz.Start
			case ZoneCondFull:
				z.wp = rz.Start + zoneSizeSectors
			default:
				if rz.WP < rz.Start || rz.WP > rz.Start+zoneSizeSectors {
					return nil, &GeometryError{
						File:   devicePath,
						Detail: fmt.Sprintf("zone %d write pointer %d out of range [%d,%d]", idx, rz.WP, rz.Start, rz.Start+zoneSizeSectors),
					}
				}
				z.wp = rz.WP
			}
			if idx > 0 && z.Start != zones[idx-1].Start+zoneSizeSectors {
				return nil, &GeometryError{
					File:   devicePath,
					Detail: fmt.Sprintf("zone %d starts at %d, expected %d", idx, z.Start, zones[idx-1].Start+zoneSizeSectors),
				}
			}
			zones[idx] = z
			idx++
		}
		if idx >= nrZones {
			last := reported[len(reported)-1]
			startSector = last.Start + last.Len
			break
		}
		last := reported[len(reported)-1]
		startSector = last.Start + last.Len
		reported, err = dev.ReportZones(startSector, reportBatch)
		if err != nil {
			return nil, &IoctlError{Op: "BLKREPORTZONE", Errno: err}
		}
		if len(reported) == 0 {
			return nil, &GeometryError{File: devicePath, Detail: "zone report ended before nr_zones was reached"}
		}
	}

	zones[nrZones] = &Zone{Start: startSector, Type: ZoneTypeConventional, cond: ZoneCondNotWP}

	zt := &ZoneTable{
		ZoneSize:     zoneSizeSectors,
		zoneSizeLog2: log2IfPowerOfTwo(zoneSizeSectors),
		NrZones:      nrZones,
		Zones:        zones,
		Model:        model,
	}
	log.V(1).Info("built zone table from device report", "device", devicePath, "nr_zones", nrZones, "zone_size_sectors", zoneSizeSectors, "model", model.String())
	return zt, nil
}

// buildSyntheticTable synthesizes a zone table for a non-zoned device:
// zone_size must be supplied, and every zone starts SEQWRITE_REQ/EMPTY
// with wp at the zone's end (i.e. "full"; an up-front reset empties
// them).
func buildSyntheticTable(devicePath string, dev DeviceInfo, requestedZoneSize int64, log logr.Logger) (*ZoneTable, error) {
	if requestedZoneSize < 512 {
		return nil, &ConfigError{
			File:   devicePath,
			Reason: fmt.Sprintf("zone size must be at least 512 bytes for non-zoned device, got %d", requestedZoneSize),
		}
	}

	size, err := dev.Size()
	if err != nil {
		return nil, &IoctlError{Op: "stat", Errno: err}
	}

	zoneSizeSectors := requestedZoneSize >> 9
	nrZones := int((size>>9 + zoneSizeSectors - 1) / zoneSizeSectors)
	if nrZones <= 0 {
		return nil, &ResourceError{Detail: "computed zero zones for non-zoned device"}
	}

	zones := make([]*Zone, nrZones+1)
	for i := 0; i < nrZones; i++ {
		start := int64(i) * zoneSizeSectors
		zones[i] = &Zone{
			Start: start,
			Type:  ZoneTypeSeqwriteReq,
			cond:  ZoneCondEmpty,
			wp:    start + zoneSizeSectors,
		}
	}
	zones[nrZones] = &Zone{Start: int64(nrZones) * zoneSizeSectors, Type: ZoneTypeConventional, cond: ZoneCondNotWP}

	zt := &ZoneTable{
		ZoneSize:     zoneSizeSectors,
		zoneSizeLog2: log2IfPowerOfTwo(zoneSizeSectors),
		NrZones:      nrZones,
		Zones:        zones,
		Model:        ZoneModelNone,
	}
	log.V(1).Info("synthesized zone table for non-zoned device", "device", devicePath, "nr_zones", nrZones, "zone_size_sectors", zoneSizeSectors)
	return zt, nil
}

// log2IfPowerOfTwo returns log2(zoneSizeSectors<<9) if the byte-sized zone
// is a power of two, else noLog2. This mirrors is_power_of_2/ilog2 from
// original_source/zbd.c's init_zone_info.
func log2IfPowerOfTwo(zoneSizeSectors int64) int {
	zoneSizeBytes := uint64(zoneSizeSectors) << 9
	if zoneSizeBytes == 0 || zoneSizeBytes&(zoneSizeBytes-1) != 0 {
		return noLog2
	}
	return bits.TrailingZeros64(zoneSizeBytes)
}
