/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package cmd

import (
	"fmt"
	"os"
	"runtime/pprof"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// program flags defined as global variables for access across functions
var (
	devicePath   string // target device or simulated device file
	zoneSizeMB   int64  // zone size in megabytes, for non-zoned devices
	ioSizeMB     int64  // size of the file's i/o range in megabytes
	blockSizeKB  int    // block size for io operations in kilobytes
	testDuration int    // duration of test in seconds
	readMix      int    // percentage of candidates that are reads
	randomIO     bool   // whether candidate offsets are drawn randomly
	directIO     bool   // whether to use direct io
	verify       bool   // enable pre-reset + write-order replay
	readBeyondWP bool   // allow reads past the write pointer
	outFmt       string // output format
	reinitFile   bool   // whether to reinitialize existing simulated devices
	verbosity    int    // logr verbosity level
	version      bool   // print version and exit
	cfgFile      string // optional viper config file
	cpuProfile   string // write a pprof CPU profile here if non-empty
)

// cpuProfileFile holds the profile destination between the root
// command's PersistentPreRun and PersistentPostRun hooks.
var cpuProfileFile *os.File

const progVersion string = "0.1.0"
const progAuthor string = "jesse galley <jesse@jessegalley.net>"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "zbdgen",
	Short: "Adapt read/write/trim requests for zoned block devices.",
	Long:  `zbdgen drives a zoned-block-device-aware request adjuster against a real or simulated device, for exercising and observing the zone bookkeeping core.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if version {
			fmt.Printf("zbdgen v%s\n%s\ngithub.com/jessegalley/zbdgen\n", progVersion, progAuthor)
			os.Exit(0)
		}
		if cpuProfile != "" {
			f, err := os.Create(cpuProfile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "zbdgen: cpu profile: %v\n", err)
				return
			}
			if err := pprof.StartCPUProfile(f); err != nil {
				fmt.Fprintf(os.Stderr, "zbdgen: cpu profile: %v\n", err)
				f.Close()
				return
			}
			cpuProfileFile = f
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if cpuProfileFile == nil {
			return
		}
		pprof.StopCPUProfile()
		cpuProfileFile.Close()
		cpuProfileFile = nil
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the logr.Logger every subcommand shares. zbdgen
// ships no concrete logr backend dependency beyond the interface
// itself, so this returns a discard logger; the -v flag is not
// consulted.
func newLogger() logr.Logger {
	return logr.Discard().V(0)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.zbdgen.yaml)")
	rootCmd.PersistentFlags().StringVarP(&devicePath, "device", "D", "", "target device path or simulated device file")
	rootCmd.PersistentFlags().Int64VarP(&zoneSizeMB, "zone-size", "z", 256, "zone size in megabytes (required for non-zoned devices; must match the device's zone size on zoned ones)")
	rootCmd.PersistentFlags().Int64VarP(&ioSizeMB, "size", "s", 1024, "size of the file's i/o range in megabytes")
	rootCmd.PersistentFlags().IntVarP(&blockSizeKB, "block", "b", 4, "block size for io operations in kilobytes")
	rootCmd.PersistentFlags().IntVarP(&testDuration, "runtime", "t", 10, "duration of test in seconds")
	rootCmd.PersistentFlags().IntVarP(&readMix, "readmix", "r", 50, "percentage of candidates that are reads")
	rootCmd.PersistentFlags().BoolVar(&randomIO, "random", true, "draw candidate offsets randomly instead of sequentially")
	rootCmd.PersistentFlags().BoolVarP(&directIO, "direct", "d", false, "use direct io (o_direct)")
	rootCmd.PersistentFlags().BoolVar(&verify, "verify", false, "enable pre-reset and write-order replay")
	rootCmd.PersistentFlags().BoolVar(&readBeyondWP, "read-beyond-wp", false, "allow reads past the write pointer without remapping")
	rootCmd.PersistentFlags().StringVar(&outFmt, "format", "table", "output format (table, json, or flat)")
	rootCmd.PersistentFlags().BoolVar(&reinitFile, "reinit", false, "reinitialize the simulated device file even if it already exists")
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbose", "v", 0, "logging verbosity")
	rootCmd.PersistentFlags().BoolVarP(&version, "version", "V", false, "print version and exit")
	rootCmd.PersistentFlags().StringVar(&cpuProfile, "cpu-profile", "", "write a pprof cpu profile to this file")

	viper.BindPFlag("device", rootCmd.PersistentFlags().Lookup("device"))
	viper.BindPFlag("zone_size_mb", rootCmd.PersistentFlags().Lookup("zone-size"))
	viper.BindPFlag("size_mb", rootCmd.PersistentFlags().Lookup("size"))
	viper.BindPFlag("block_kb", rootCmd.PersistentFlags().Lookup("block"))
	viper.BindPFlag("runtime_seconds", rootCmd.PersistentFlags().Lookup("runtime"))
	viper.BindPFlag("readmix", rootCmd.PersistentFlags().Lookup("readmix"))
	viper.BindPFlag("random", rootCmd.PersistentFlags().Lookup("random"))
	viper.BindPFlag("direct", rootCmd.PersistentFlags().Lookup("direct"))
	viper.BindPFlag("verify", rootCmd.PersistentFlags().Lookup("verify"))
	viper.BindPFlag("read_beyond_wp", rootCmd.PersistentFlags().Lookup("read-beyond-wp"))
	viper.BindPFlag("format", rootCmd.PersistentFlags().Lookup("format"))
}

// The cfg* accessors are what actually make viper's config-file and
// ZBDGEN_* env var layering take effect: viper.BindPFlag ties each key
// to its pflag, so viper.Get* returns the flag value when set and
// falls back to the config file/environment otherwise. Reading the
// bound package vars directly (as cobra alone would populate them)
// would silently skip that fallback.
func cfgDevice() string      { return viper.GetString("device") }
func cfgZoneSizeMB() int64   { return viper.GetInt64("zone_size_mb") }
func cfgIOSizeMB() int64     { return viper.GetInt64("size_mb") }
func cfgBlockSizeKB() int    { return viper.GetInt("block_kb") }
func cfgRuntimeSeconds() int { return viper.GetInt("runtime_seconds") }
func cfgReadMix() int        { return viper.GetInt("readmix") }
func cfgRandom() bool        { return viper.GetBool("random") }
func cfgDirect() bool        { return viper.GetBool("direct") }
func cfgVerify() bool        { return viper.GetBool("verify") }
func cfgReadBeyondWP() bool  { return viper.GetBool("read_beyond_wp") }
func cfgFormat() string      { return viper.GetString("format") }

// initConfig reads in a config file and ENV variables if set, layered
// beneath command-line flags per viper's documented precedence.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".zbdgen")
	}

	viper.SetEnvPrefix("ZBDGEN")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "zbdgen: error reading config file: %v\n", err)
		}
	}
}
