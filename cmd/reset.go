/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package cmd

import (
	"fmt"

	"github.com/jessegalley/zbdgen/zbd"
	"github.com/spf13/cobra"
)

var resetAllZones bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset every sequential zone covering the device's i/o range.",
	RunE:  runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetAllZones, "all", true, "reset every sequential zone regardless of alignment")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	device := cfgDevice()
	if device == "" {
		return fmt.Errorf("zbdgen: --device is required")
	}

	log := newLogger()
	ioSize := cfgIOSizeMB() << 20
	zoneSize := cfgZoneSizeMB() << 20

	job := zbd.NewJob(zbd.Config{ZoneMode: "zbd", ZoneSize: zoneSize}, zbd.DefaultRegistry)
	file := &zbd.File{Path: device, DevicePath: device, Offset: 0, IOSize: ioSize, Writing: true}
	job.AddFile(file)

	if err := zbd.Init(job, nil, log); err != nil {
		return fmt.Errorf("zbdgen: init failed: %w", err)
	}
	defer zbd.FreeZoneInfo(job, file)

	zt := file.Table()
	zb := zt.ZoneIndexOf(file.Offset)
	ze := zt.ZoneIndexOf(file.Offset + file.IOSize)

	if err := zbd.ResetZones(zt, file.Dev, zb, ze, resetAllZones, true, int64(cfgBlockSizeKB())<<10, log); err != nil {
		return fmt.Errorf("zbdgen: reset failed: %w", err)
	}

	fmt.Printf("reset zones [%d, %d) on %s\n", zb, ze, device)
	return nil
}
