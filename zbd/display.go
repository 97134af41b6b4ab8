package zbd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jessegalley/go-filesize"
)

// DisplayConfig controls how a Display renders live and final statistics.
type DisplayConfig struct {
	UpdateInterval time.Duration
	ShowLatency    bool
	ShowProgress   bool
	TestDuration   time.Duration
	Quiet          bool
}

// Display renders a StatsCollector's live and final aggregates to the
// terminal, keyed by Direction instead of a free-form operation name so
// EOF/reset pressure is always shown alongside IOPS.
type Display struct {
	config        DisplayConfig
	collector     *StatsCollector
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	lastStats     AggregatedStats
	startTime     time.Time
	headerShown   bool
}

// NewDisplay creates a display bound to collector.
func NewDisplay(collector *StatsCollector, config DisplayConfig) *Display {
	ctx, cancel := context.WithCancel(context.Background())
	return &Display{
		config:    config,
		collector: collector,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

// Start begins the live-update goroutine, unless quiet mode is set.
func (d *Display) Start() {
	if d.config.Quiet {
		return
	}
	d.clearTerminal()
	d.wg.Add(1)
	go d.loop()
}

// Stop shuts the display down and waits for its goroutine to exit.
func (d *Display) Stop() {
	d.cancel()
	d.wg.Wait()
}

// ShowFinalSummary prints the terminal, non-live final report.
func (d *Display) ShowFinalSummary(final AggregatedStats) {
	if !d.config.Quiet {
		d.clearTerminal()
	}

	fmt.Printf("\n=== Final ZBD Run Results ===\n\n")
	fmt.Printf("Test Duration: %.2f seconds\n", final.TestDuration)

	dirs := sortedDirections(final.TotalCounts)
	if len(dirs) == 0 {
		fmt.Printf("No operations recorded\n")
		return
	}

	fmt.Printf("\nOperation Summary:\n")
	fmt.Printf("%-10s %12s %12s %10s %10s\n", "Direction", "Count", "IOPS", "EOF", "Resets")
	fmt.Printf("%-10s %12s %12s %10s %10s\n", "─────────", "─────", "────", "───", "──────")

	var totalOps int64
	var totalIOPS float64
	for _, dir := range dirs {
		count := final.TotalCounts[dir]
		iops := final.IOPS[dir]
		fmt.Printf("%-10s %12d %12.2f %10d %10d\n", dir, count, iops, final.EOFCounts[dir], final.ResetCounts[dir])
		totalOps += count
		totalIOPS += iops
	}
	fmt.Printf("%-10s %12s %12s %10s %10s\n", "─────────", "─────", "────", "───", "──────")
	fmt.Printf("%-10s %12d %12.2f\n", "Total", totalOps, totalIOPS)

	if final.HasLatencyData && d.config.ShowLatency {
		fmt.Printf("\nLatency Statistics (microseconds):\n")
		fmt.Printf("%-10s %8s %8s %8s %8s\n", "Direction", "Mean", "StdDev", "Min", "Max")
		for _, dir := range dirs {
			if l, ok := final.LatencyStats[dir]; ok && l.Count > 0 {
				fmt.Printf("%-10s %8.1f %8.1f %8.1f %8.1f\n", dir, l.MeanUs, l.StdDevUs, l.MinUs, l.MaxUs)
			}
		}
	}

	fmt.Printf("\n")
}

func (d *Display) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.UpdateInterval)
	defer ticker.Stop()

	lastShown := time.Now()
	for {
		select {
		case stats, ok := <-d.collector.GetLiveUpdates():
			if !ok {
				return
			}
			d.lastStats = stats
			if time.Since(lastShown) >= d.config.UpdateInterval {
				d.showLive(stats)
				lastShown = time.Now()
			}
		case <-ticker.C:
			if d.lastStats.TestDuration > 0 {
				d.showLive(d.lastStats)
				lastShown = time.Now()
			}
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Display) showLive(stats AggregatedStats) {
	if d.headerShown {
		d.clearTerminal()
	}
	fmt.Printf("=== Live ZBD Statistics ===\n\n")
	d.headerShown = true

	if d.config.ShowProgress && d.config.TestDuration > 0 {
		elapsed := time.Since(d.startTime)
		progress := float64(elapsed) / float64(d.config.TestDuration)
		if progress > 1.0 {
			progress = 1.0
		}
		d.showProgressBar(progress, elapsed, d.config.TestDuration)
		fmt.Printf("\n\n")
	}

	fmt.Printf("Elapsed: %.1fs", stats.TestDuration)
	if d.config.TestDuration > 0 {
		if remaining := d.config.TestDuration - time.Since(d.startTime); remaining > 0 {
			fmt.Printf(" | Remaining: %.1fs", remaining.Seconds())
		}
	}
	fmt.Printf("\n\n")

	dirs := sortedDirections(stats.TotalCounts)
	if len(dirs) == 0 {
		fmt.Printf("No operations recorded yet...\n")
		return
	}

	fmt.Printf("%-10s %12s %12s %10s %10s", "Direction", "Count", "IOPS", "EOF", "Resets")
	if stats.HasLatencyData && d.config.ShowLatency {
		fmt.Printf(" %10s", "Latency")
	}
	fmt.Printf("\n")

	for _, dir := range dirs {
		count := stats.TotalCounts[dir]
		iops := stats.IOPS[dir]
		fmt.Printf("%-10s %12d %12.2f %10d %10d", dir, count, iops, stats.EOFCounts[dir], stats.ResetCounts[dir])
		if stats.HasLatencyData && d.config.ShowLatency {
			if l, ok := stats.LatencyStats[dir]; ok && l.Count > 0 {
				fmt.Printf(" %8.1fμs", l.MeanUs)
			} else {
				fmt.Printf(" %10s", "─")
			}
		}
		fmt.Printf("\n")
	}
}

func (d *Display) showProgressBar(progress float64, elapsed, total time.Duration) {
	const barWidth = 40
	const progressChar = "█"
	const emptyChar = "░"

	filled := int(progress * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat(progressChar, filled) + strings.Repeat(emptyChar, barWidth-filled)
	fmt.Printf("Progress: [%s] %.1f%% (%s / %s)", bar, progress*100, formatDuration(elapsed), formatDuration(total))
}

func formatDuration(dur time.Duration) string {
	switch {
	case dur < time.Minute:
		return fmt.Sprintf("%.0fs", dur.Seconds())
	case dur < time.Hour:
		return fmt.Sprintf("%.0fm%.0fs", dur.Minutes(), dur.Seconds()-60*dur.Minutes())
	default:
		hours := dur.Hours()
		minutes := dur.Minutes() - 60*hours
		return fmt.Sprintf("%.0fh%.0fm", hours, minutes)
	}
}

func sortedDirections(counts map[Direction]int64) []Direction {
	dirs := make([]Direction, 0, len(counts))
	for d := range counts {
		dirs = append(dirs, d)
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i] < dirs[j] })
	return dirs
}

func (d *Display) clearTerminal() {
	fmt.Print("\033[2J\033[H")
}

// formatBytes renders a byte count human-readably, e.g. for zone-size
// summaries printed alongside the live table.
func formatBytes(n int64) string {
	return filesize.FormatSize(n)
}
