// Package cmd implements profilerd's cobra command tree: a root
// command carrying persistent flags plus logger setup, with
// subcommands attached via init().
package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/causalprof/profilomatic/pkg/utils"
)

var (
	configPath string
	verbose    bool
	jsonLogs   bool
	logger     utils.Logger
)

var rootCmd = &cobra.Command{
	Use:   "profilerd",
	Short: "A causally-linked sampling profiler daemon",
	Long: `profilerd correlates CPU stack samples with structured, causally-linked
log actions and emits a tree of call frames annotated with timing and
interleaved log messages to one or more configured destinations.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logLevel := utils.LevelInfo
		if verbose {
			logLevel = utils.LevelDebug
		}
		if jsonLogs {
			logger = utils.NewZerologLogger(logLevel, os.Stdout)
		} else {
			logger = utils.NewDefaultLogger(logLevel, os.Stdout)
		}
		return nil
	},
}

// Execute runs the root command, exiting the process with status 1 on
// error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the profilerd YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug-level logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit structured JSON logs via zerolog instead of plain text")

	binName := BinName()
	rootCmd.Example = `  # Run the daemon with a config file
  ` + binName + ` run -c ./configs/profilerd.yaml

  # Run with defaults and verbose logging
  ` + binName + ` run -v`
}

// GetLogger returns the logger configured by the root command's
// PersistentPreRunE.
func GetLogger() utils.Logger {
	return logger
}

// BinName returns the base name of the current executable.
func BinName() string {
	return filepath.Base(os.Args[0])
}
