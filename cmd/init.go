/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package cmd

import (
	"fmt"

	"github.com/jessegalley/zbdgen/zbd"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Discover or synthesize a zone table for a device and print it.",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	device := cfgDevice()
	if device == "" {
		return fmt.Errorf("zbdgen: --device is required")
	}

	log := newLogger()
	ioSize := cfgIOSizeMB() << 20
	zoneSize := cfgZoneSizeMB() << 20

	if err := zbd.CreateSimulatedDevice(device, ioSize, reinitFile); err != nil {
		log.V(1).Info("simulated device create skipped or failed", "err", err.Error())
	}

	job := zbd.NewJob(zbd.Config{ZoneMode: "zbd", ZoneSize: zoneSize}, zbd.DefaultRegistry)
	file := &zbd.File{Path: device, DevicePath: device, Offset: 0, IOSize: ioSize}
	job.AddFile(file)

	if err := zbd.Init(job, nil, log); err != nil {
		return fmt.Errorf("zbdgen: init failed: %w", err)
	}
	defer zbd.FreeZoneInfo(job, file)

	zt := file.Table()
	fmt.Printf("device: %s\nmodel: %s\nnr_zones: %d\nzone_size_sectors: %d\n",
		device, zt.Model, zt.NrZones, zt.ZoneSize)
	fmt.Printf("zone 0: %s\n", zt.ZoneAt(0))
	fmt.Printf("sentinel: %s\n", zt.Sentinel())

	return nil
}
