/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jessegalley/zbdgen/zbd"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build a zone table, validate it, and drive adjusted I/O against the device.",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	device := cfgDevice()
	if device == "" {
		return fmt.Errorf("zbdgen: --device is required")
	}

	runID := uuid.New()
	log := newLogger().WithValues("run_id", runID.String())

	ioSize := cfgIOSizeMB() << 20
	zoneSize := cfgZoneSizeMB() << 20
	blockSize := int64(cfgBlockSizeKB()) << 10
	direct := cfgDirect()

	if err := zbd.CreateSimulatedDevice(device, ioSize, reinitFile); err != nil {
		if !os.IsExist(err) {
			log.V(1).Info("simulated device create skipped or failed", "err", err.Error())
		}
	}

	cfg := zbd.Config{
		ZoneMode:     "zbd",
		ZoneSize:     zoneSize,
		Verify:       cfgVerify(),
		ReadBeyondWP: cfgReadBeyondWP(),
		ODirect:      direct,
		Limits: map[zbd.Direction]zbd.DirectionLimits{
			zbd.DirRead:  {MinBS: blockSize, MaxBS: blockSize * 4},
			zbd.DirWrite: {MinBS: blockSize, MaxBS: blockSize * 4},
		},
	}

	job := zbd.NewJob(cfg, zbd.DefaultRegistry)
	file := &zbd.File{
		Path:       device,
		DevicePath: device,
		Offset:     0,
		IOSize:     ioSize,
		Writing:    true,
		Direct:     direct,
	}
	job.AddFile(file)

	if err := zbd.Init(job, nil, log); err != nil {
		return fmt.Errorf("zbdgen: init failed: %w", err)
	}
	defer zbd.FreeZoneInfo(job, file)

	if err := zbd.FileReset(job, file, file.Dev, log); err != nil {
		return fmt.Errorf("zbdgen: file reset failed: %w", err)
	}

	format, err := zbd.ValidateFormat(cfgFormat())
	if err != nil {
		return err
	}

	duration := time.Duration(cfgRuntimeSeconds()) * time.Second

	collector := zbd.NewStatsCollector(64, 1, true)
	collector.Start()
	display := zbd.NewDisplay(collector, zbd.DisplayConfig{
		UpdateInterval: time.Second,
		ShowLatency:    true,
		ShowProgress:   true,
		TestDuration:   duration,
		Quiet:          cfgFormat() != "table",
	})
	display.Start()

	adjuster := &zbd.Adjuster{Job: job, Log: log, Quiesce: job}

	gen := &zbd.Generator{
		Job:      job,
		Adjuster: adjuster,
		Config: zbd.GeneratorConfig{
			Duration: duration,
			ReadMix:  cfgReadMix(),
			Random:   cfgRandom(),
			DirectIO: direct,
			Stats:    collector,
			Log:      log,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	results, runErr := gen.Run(ctx)
	display.Stop()
	collector.Stop()

	final := collector.GetFinalStats()
	display.ShowFinalSummary(final)

	out, err := zbd.FormatResult(final, format)
	if err != nil {
		return err
	}
	fmt.Print(out)

	for _, r := range results {
		if r.Err != nil {
			log.Error(r.Err, "worker failed", "file", r.File.Path)
		}
	}

	return runErr
}
