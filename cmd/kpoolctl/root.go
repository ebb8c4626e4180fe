package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/kpool/internal/logger"
)

var (
	// Global flags
	verbose  bool
	quiet    bool
	jsonOut  bool
	logDir   string
	logLevel string

	closeLog = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "kpoolctl",
	Short: "Exercise the sharded buffer cache and page allocator",
	Long: `kpoolctl drives the kpool buffer cache and per-CPU page allocator.
It can format block device images, dump blocks through the cache and run
randomized concurrent workloads that check both components for consistency
and report per-shard lock contention.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLog()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().
		StringVar(&logDir, "log-dir", "", "Write JSON logs to daily files in this directory")
	rootCmd.PersistentFlags().
		StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

// setupLogging enables the process logger when logs were asked for, either
// through --log-dir or --verbose (text on stderr).
func setupLogging(cmd *cobra.Command, args []string) error {
	closer, err := logger.Init(logger.Options{
		Enabled: logDir != "" || verbose,
		LogDir:  logDir,
		Level:   logger.ParseLevel(logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	closeLog = closer
	return nil
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v\n", err)
		os.Exit(1)
	}
}

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printError prints an error message
func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format, args...)
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
