package zbd

import (
	"context"
	"crypto/rand"
	"fmt"
	mathrand "math/rand"
	"os"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/go-logr/logr"
)

// alignment is the direct-I/O buffer alignment boundary, matching a
// plain I/O benchmark's worker convention.
const alignment = 4096

// alignBuffer returns the sub-slice of buf starting at the first
// alignment-byte boundary.
func alignBuffer(buf []byte, alignment int) []byte {
	addr := uintptr(unsafe.Pointer(&buf[0]))
	offset := int(uintptr(alignment) - (addr & (uintptr(alignment) - 1)))
	if offset == alignment {
		return buf
	}
	return buf[offset:]
}

// RunResult is one worker's contribution to a generator run, reported
// on the same channel-of-results convention a plain benchmark worker
// uses to hand results back to its caller.
type RunResult struct {
	File     *File
	Duration time.Duration
	Err      error
}

// GeneratorConfig parameterizes one Run invocation, adapting a plain
// benchmark's per-file worker knobs (block size, read mix, direct I/O)
// onto zbd.Job/File/Adjuster.
type GeneratorConfig struct {
	Duration   time.Duration
	ReadMix    int // 0-100, percentage of candidates that are reads
	Random     bool
	DirectIO   bool
	Stats      *StatsCollector
	Log        logr.Logger
}

// Generator drives candidate I/O units through an Adjuster and performs
// the resulting request against the real file. It's a minimal,
// concrete worker loop in the style of a plain benchmark tool.
type Generator struct {
	Job      *Job
	Adjuster *Adjuster
	Config   GeneratorConfig
}

// Run launches one worker goroutine per job file and blocks until every
// worker has either exhausted its duration or hit a fatal error,
// following a plain benchmark's wait-group-and-results-channel pattern.
func (g *Generator) Run(ctx context.Context) ([]RunResult, error) {
	results := make(chan RunResult, len(g.Job.Files))
	var wg sync.WaitGroup

	for i, f := range g.Job.Files {
		wg.Add(1)
		rng := mathrand.New(mathrand.NewSource(seedFor(i)))
		go func(f *File, rng *mathrand.Rand, workerID int) {
			defer wg.Done()
			err := g.runWorker(ctx, f, rng, workerID)
			results <- RunResult{File: f, Err: err}
		}(f, rng, i)
	}

	wg.Wait()
	close(results)

	out := make([]RunResult, 0, len(g.Job.Files))
	var firstErr error
	for r := range results {
		out = append(out, r)
		if r.Err != nil && firstErr == nil {
			firstErr = r.Err
		}
	}
	return out, firstErr
}

// seedFor derives a worker's RNG seed from its worker ID alone, so every
// run with the same files draws the same candidate sequence.
func seedFor(workerID int) int64 {
	return int64(workerID)*2654435761 + 1
}

// runWorker is one file's candidate-generation loop: pick an offset,
// adjust it, perform the I/O, complete the reservation, record stats.
func (g *Generator) runWorker(ctx context.Context, f *File, rng *mathrand.Rand, workerID int) error {
	flags := os.O_RDWR
	if g.Config.DirectIO {
		flags |= syscall.O_DIRECT
	}
	fh, err := os.OpenFile(f.Path, flags, 0)
	if err != nil {
		return fmt.Errorf("zbd: open %s: %w", f.Path, err)
	}
	defer fh.Close()

	tracker := NewWorkerStatsTracker(workerID, g.Config.Stats, 500*time.Millisecond, true)
	defer tracker.Finalize()

	minBS := g.Job.Config.minBS(DirWrite)
	maxBS := g.Job.Config.maxBS(DirWrite)

	buf := make([]byte, maxBS+int64(alignment)*2)
	var payload []byte
	if g.Config.DirectIO {
		payload = alignBuffer(buf, alignment)
	} else {
		payload = buf
	}
	if _, err := rand.Read(payload[:maxBS]); err != nil {
		return fmt.Errorf("zbd: generate payload: %w", err)
	}

	var seqNext int64 // next sequential candidate, relative to f.Offset
	deadline := time.Now().Add(g.Config.Duration)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		dir := DirWrite
		if rng.Intn(100) < g.Config.ReadMix {
			dir = DirRead
		}

		bufLen := minBS
		if maxBS > minBS {
			steps := (maxBS - minBS) / minBS
			if steps > 0 {
				bufLen = minBS + (rng.Int63n(steps+1))*minBS
			}
		}
		var offset int64
		if g.Config.Random {
			offset = rng.Int63n(f.IOSize-bufLen+1) + f.Offset
		} else {
			if seqNext+bufLen > f.IOSize {
				seqNext = 0
			}
			offset = f.Offset + seqNext
			seqNext += bufLen
		}

		unit := &IOUnit{File: f, Direction: dir, Offset: offset, BufLen: bufLen, Random: g.Config.Random}
		result := g.Adjuster.AdjustBlock(ctx, unit)

		if result.ResetPerformed {
			tracker.RecordReset(dir)
		}

		start := time.Now()
		switch result.Outcome {
		case EOF:
			tracker.RecordEOF(dir)
			continue
		case ConventionalAccept, SequentialAccept:
			f.BeginIO()
			success := g.performIO(fh, dir, result.Offset, result.BufLen, payload)
			f.EndIO()
			if result.Reservation != nil {
				result.Reservation.Complete(success)
			}
			if success {
				tracker.RecordOperation(dir, time.Since(start))
			}
		}
	}

	return nil
}

// performIO issues the actual pread/pwrite for an adjusted request.
// Errors are logged and treated as a failed completion; the caller
// decides retry policy.
func (g *Generator) performIO(fh *os.File, dir Direction, offset, bufLen int64, payload []byte) bool {
	switch dir {
	case DirRead:
		buf := make([]byte, bufLen)
		if _, err := fh.ReadAt(buf, offset); err != nil {
			g.Config.Log.V(1).Info("read failed", "offset", offset, "buflen", bufLen, "err", err.Error())
			return false
		}
		return true
	case DirWrite:
		if _, err := fh.WriteAt(payload[:bufLen], offset); err != nil {
			g.Config.Log.V(1).Info("write failed", "offset", offset, "buflen", bufLen, "err", err.Error())
			return false
		}
		return true
	default:
		return true
	}
}
