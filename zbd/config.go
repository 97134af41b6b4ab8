package zbd

import (
	"context"
	"fmt"
	"sync"
)

// RunState distinguishes the normal write/read phase from the
// verification-replay phase, per spec.md §4.5's Write-Order Replay.
type RunState int

const (
	RunNormal RunState = iota
	RunVerifying
)

// DirectionLimits carries the minimum/maximum block size configured for
// one I/O direction, in bytes.
type DirectionLimits struct {
	MinBS int64
	MaxBS int64
}

// Config holds the job-wide parameters spec.md §6 lists under
// "Configuration options recognized".
type Config struct {
	// ZoneMode must be "zbd" for this core to be active.
	ZoneMode string

	// ZoneSize is in bytes; mandatory for non-zoned devices, optional
	// (used only to cross-check) on zoned ones.
	ZoneSize int64

	// Verify enables the all-zones pre-reset in FileReset and the
	// block-size check in Validate. Write-Order Replay on read adjustment
	// follows Job.State == RunVerifying, not this field.
	Verify bool

	// ReadBeyondWP allows reads past a sequential zone's write pointer
	// to bypass locking and remapping entirely.
	ReadBeyondWP bool

	// ODirect records whether writers use unbuffered I/O; required for
	// any writer targeting a host-managed device.
	ODirect bool

	// Limits is keyed by Direction; a missing entry or zero MinBS means
	// SectorSize, and a missing or zero MaxBS means that direction's MinBS.
	Limits map[Direction]DirectionLimits
}

// Enabled reports whether the job asked for zoned-block-device handling.
func (c *Config) Enabled() bool {
	return c.ZoneMode == "zbd"
}

func (c *Config) minBS(d Direction) int64 {
	if l, ok := c.Limits[d]; ok && l.MinBS > 0 {
		return l.MinBS
	}
	return SectorSize
}

func (c *Config) maxBS(d Direction) int64 {
	if l, ok := c.Limits[d]; ok && l.MaxBS > 0 {
		return l.MaxBS
	}
	return c.minBS(d)
}

// File is one job file: its device-relative I/O range and the zone
// table it shares with every other file on the same device.
type File struct {
	// Path identifies the file/device for registry sharing.
	Path string

	// DevicePath is the underlying block device backing Path; for a
	// regular file simulating a device it equals Path.
	DevicePath string

	// Offset and IOSize bound the file's I/O range, in bytes.
	Offset int64
	IOSize int64

	// Writing reports whether this job writes to the file at all; used
	// by the direct-I/O check and by reset-zones' all_zones=false path.
	Writing bool

	// Direct reports whether this file's writer uses unbuffered I/O.
	Direct bool

	table *ZoneTable

	// Dev is the device handle Init opened to build/confirm table; kept
	// alive so later reset/adjust calls can still issue real ioctls
	// against a host-aware/host-managed device. FreeZoneInfo closes it.
	Dev DeviceInfo

	// inflight counts I/O the generator has submitted for this file but
	// not yet completed; Job.Quiesce waits on it before a synchronous
	// zone reset (spec.md §4.5/§9's quiesce primitive).
	inflight sync.WaitGroup
}

// Table returns the file's attached zone table. Populated by Init.
func (f *File) Table() *ZoneTable { return f.table }

// BeginIO marks the start of one in-flight I/O operation on f. Callers
// submitting I/O on f's behalf must pair every BeginIO with an EndIO,
// or Job.Quiesce will block forever waiting for it.
func (f *File) BeginIO() { f.inflight.Add(1) }

// EndIO marks the completion of one in-flight I/O operation on f.
func (f *File) EndIO() { f.inflight.Done() }

// Job groups the files and configuration validated and adjusted
// together, per spec.md §6's caller-facing API.
type Job struct {
	Config   Config
	Files    []*File
	State    RunState
	registry *Registry
}

// NewJob constructs a job whose files share zone tables through
// registry; a nil registry selects DefaultRegistry.
func NewJob(cfg Config, registry *Registry) *Job {
	if registry == nil {
		registry = DefaultRegistry
	}
	return &Job{Config: cfg, registry: registry}
}

// AddFile registers a file with the job. Init must be called afterward
// to build/share its zone table.
func (j *Job) AddFile(f *File) {
	j.Files = append(j.Files, f)
}

func (j *Job) String() string {
	return fmt.Sprintf("job{zone_mode=%s files=%d verify=%v}", j.Config.ZoneMode, len(j.Files), j.Config.Verify)
}

// Quiesce blocks until every file's in-flight I/O has drained,
// implementing Quiescer for the Adjuster's write path (spec.md
// §4.5/§9): a synchronous zone reset must never race an outstanding
// asynchronous write to that same zone.
func (j *Job) Quiesce(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		for _, f := range j.Files {
			f.inflight.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
