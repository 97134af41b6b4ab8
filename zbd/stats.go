package zbd

import (
	"context"
	"math"
	"sync"
	"time"
)

// OpStats accumulates per-operation counters from one worker, generalized
// from a plain I/O benchmark's operation-count/latency tracker to also
// carry the zone-specific outcomes this package cares about (EOF hits
// and zone resets), so a live dashboard can show zone pressure alongside
// IOPS.
type OpStats struct {
	Count       int64
	TotalTimeUs int64
	SumSquares  int64
	MinUs       int64
	MaxUs       int64
	EOFCount    int64
	ResetCount  int64
}

// StatsUpdate is what one worker reports at each flush interval.
type StatsUpdate struct {
	WorkerID       int
	Timestamp      time.Time
	OpStats        map[Direction]OpStats
	CollectLatency bool
}

// AggregatedStats is the combined view across every worker.
type AggregatedStats struct {
	TotalCounts    map[Direction]int64
	IOPS           map[Direction]float64
	EOFCounts      map[Direction]int64
	ResetCounts    map[Direction]int64
	TestDuration   float64
	HasLatencyData bool
	LatencyStats   map[Direction]LatencyMetrics
}

// LatencyMetrics summarizes one direction's observed latencies.
type LatencyMetrics struct {
	Count    int64
	MeanUs   float64
	StdDevUs float64
	MinUs    float64
	MaxUs    float64
}

// StatsCollector aggregates StatsUpdates from every worker of a run,
// mirroring a plain benchmark tool's collector but keyed by Direction
// instead of a free-form operation-name string.
type StatsCollector struct {
	updateChan      chan StatsUpdate
	liveUpdatesChan chan AggregatedStats
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	workerStats     map[int]StatsUpdate
	testStartTime   time.Time
	collectLatency  bool
}

// NewStatsCollector creates a collector ready for Start.
func NewStatsCollector(updateBufferSize, liveUpdatesBufferSize int, collectLatency bool) *StatsCollector {
	ctx, cancel := context.WithCancel(context.Background())
	return &StatsCollector{
		updateChan:      make(chan StatsUpdate, updateBufferSize),
		liveUpdatesChan: make(chan AggregatedStats, liveUpdatesBufferSize),
		ctx:             ctx,
		cancel:          cancel,
		workerStats:     make(map[int]StatsUpdate),
		testStartTime:   time.Now(),
		collectLatency:  collectLatency,
	}
}

// Start begins the aggregation goroutine.
func (sc *StatsCollector) Start() {
	sc.wg.Add(1)
	go sc.collect()
}

// Stop drains remaining updates and closes the live-updates channel.
func (sc *StatsCollector) Stop() {
	sc.cancel()
	close(sc.updateChan)
	sc.wg.Wait()
	close(sc.liveUpdatesChan)
}

// SendUpdate is non-blocking; a full buffer drops the update rather than
// stalling the worker's I/O loop.
func (sc *StatsCollector) SendUpdate(update StatsUpdate) {
	select {
	case sc.updateChan <- update:
	default:
	}
}

// GetLiveUpdates exposes the aggregate stream for a display loop.
func (sc *StatsCollector) GetLiveUpdates() <-chan AggregatedStats {
	return sc.liveUpdatesChan
}

// GetFinalStats returns the aggregate as of the last processed update;
// call only after Stop has returned.
func (sc *StatsCollector) GetFinalStats() AggregatedStats {
	return sc.aggregate()
}

func (sc *StatsCollector) collect() {
	defer sc.wg.Done()
	for {
		select {
		case update, ok := <-sc.updateChan:
			if !ok {
				sc.publish()
				return
			}
			sc.workerStats[update.WorkerID] = update
			sc.publish()
		case <-sc.ctx.Done():
			for update := range sc.updateChan {
				sc.workerStats[update.WorkerID] = update
			}
			sc.publish()
			return
		}
	}
}

func (sc *StatsCollector) publish() {
	agg := sc.aggregate()
	select {
	case sc.liveUpdatesChan <- agg:
	default:
	}
}

func (sc *StatsCollector) aggregate() AggregatedStats {
	dirs := map[Direction]bool{}
	for _, w := range sc.workerStats {
		for d := range w.OpStats {
			dirs[d] = true
		}
	}

	combined := make(map[Direction]OpStats)
	for d := range dirs {
		var c OpStats
		for _, w := range sc.workerStats {
			if s, ok := w.OpStats[d]; ok {
				c = combineOpStats(c, s)
			}
		}
		combined[d] = c
	}

	duration := time.Since(sc.testStartTime).Seconds()
	agg := AggregatedStats{
		TotalCounts:    make(map[Direction]int64),
		IOPS:           make(map[Direction]float64),
		EOFCounts:      make(map[Direction]int64),
		ResetCounts:    make(map[Direction]int64),
		TestDuration:   duration,
		HasLatencyData: sc.collectLatency,
	}
	for d, s := range combined {
		agg.TotalCounts[d] = s.Count
		agg.EOFCounts[d] = s.EOFCount
		agg.ResetCounts[d] = s.ResetCount
		if duration > 0 {
			agg.IOPS[d] = float64(s.Count) / duration
		}
	}
	if sc.collectLatency {
		agg.LatencyStats = make(map[Direction]LatencyMetrics)
		for d, s := range combined {
			agg.LatencyStats[d] = latencyMetrics(s)
		}
	}
	return agg
}

func combineOpStats(a, b OpStats) OpStats {
	c := OpStats{
		Count:       a.Count + b.Count,
		TotalTimeUs: a.TotalTimeUs + b.TotalTimeUs,
		SumSquares:  a.SumSquares + b.SumSquares,
		EOFCount:    a.EOFCount + b.EOFCount,
		ResetCount:  a.ResetCount + b.ResetCount,
	}
	switch {
	case a.MinUs == 0:
		c.MinUs = b.MinUs
	case b.MinUs == 0:
		c.MinUs = a.MinUs
	default:
		c.MinUs = min(a.MinUs, b.MinUs)
	}
	c.MaxUs = max(a.MaxUs, b.MaxUs)
	return c
}

func latencyMetrics(s OpStats) LatencyMetrics {
	if s.Count == 0 {
		return LatencyMetrics{}
	}
	mean := float64(s.TotalTimeUs) / float64(s.Count)
	var stddev float64
	if s.Count > 1 {
		variance := (float64(s.SumSquares) - float64(s.TotalTimeUs)*mean) / float64(s.Count)
		if variance >= 0 {
			stddev = math.Sqrt(variance)
		}
	}
	return LatencyMetrics{
		Count:    s.Count,
		MeanUs:   mean,
		StdDevUs: stddev,
		MinUs:    float64(s.MinUs),
		MaxUs:    float64(s.MaxUs),
	}
}

// WorkerStatsTracker lets one worker goroutine accumulate local counters
// and flush them to the collector at a bounded rate.
type WorkerStatsTracker struct {
	workerID       int
	collector      *StatsCollector
	opStats        map[Direction]OpStats
	lastUpdateTime time.Time
	updateInterval time.Duration
	collectLatency bool
}

// NewWorkerStatsTracker creates a tracker that flushes at most once per
// updateInterval.
func NewWorkerStatsTracker(workerID int, collector *StatsCollector, updateInterval time.Duration, collectLatency bool) *WorkerStatsTracker {
	return &WorkerStatsTracker{
		workerID:       workerID,
		collector:      collector,
		opStats:        make(map[Direction]OpStats),
		lastUpdateTime: time.Now(),
		updateInterval: updateInterval,
		collectLatency: collectLatency,
	}
}

// RecordOperation records a completed request; latency is ignored when
// the tracker wasn't configured to collect it.
func (t *WorkerStatsTracker) RecordOperation(dir Direction, latency time.Duration) {
	s := t.opStats[dir]
	s.Count++
	if t.collectLatency {
		us := latency.Microseconds()
		s.TotalTimeUs += us
		s.SumSquares += us * us
		if s.MinUs == 0 || us < s.MinUs {
			s.MinUs = us
		}
		if us > s.MaxUs {
			s.MaxUs = us
		}
	}
	t.opStats[dir] = s
	t.maybeFlush()
}

// RecordEOF tallies an AdjustBlock EOF outcome for dir.
func (t *WorkerStatsTracker) RecordEOF(dir Direction) {
	s := t.opStats[dir]
	s.EOFCount++
	t.opStats[dir] = s
	t.maybeFlush()
}

// RecordReset tallies a zone reset triggered while servicing dir.
func (t *WorkerStatsTracker) RecordReset(dir Direction) {
	s := t.opStats[dir]
	s.ResetCount++
	t.opStats[dir] = s
	t.maybeFlush()
}

func (t *WorkerStatsTracker) maybeFlush() {
	if time.Since(t.lastUpdateTime) < t.updateInterval {
		return
	}
	t.flush()
}

func (t *WorkerStatsTracker) flush() {
	snapshot := make(map[Direction]OpStats, len(t.opStats))
	for d, s := range t.opStats {
		snapshot[d] = s
	}
	t.collector.SendUpdate(StatsUpdate{
		WorkerID:       t.workerID,
		Timestamp:      time.Now(),
		OpStats:        snapshot,
		CollectLatency: t.collectLatency,
	})
	t.lastUpdateTime = time.Now()
}

// Finalize forces a last flush; callers defer this at worker exit.
func (t *WorkerStatsTracker) Finalize() {
	t.flush()
}
