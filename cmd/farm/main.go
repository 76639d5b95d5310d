package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/farm-fe/farm-sub000/internal/config"
	"github.com/farm-fe/farm-sub000/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:           "farm",
	Short:         "Incremental web bundler",
	SilenceUsage:  true,
	SilenceErrors: true,
}

type globalFlags struct {
	config  string
	root    string
	mode    string
	minify  bool
	verbose bool
	noColor bool
}

var flags globalFlags

func main() {
	rootCmd.Version = config.Version

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.config, "config", "c", "", "config file (default: farm.config.* in the root)")
	pf.StringVar(&flags.root, "root", ".", "project root")
	pf.StringVar(&flags.mode, "mode", "", "development or production")
	pf.BoolVar(&flags.minify, "minify", false, "minify output resources")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "write operational logs to stderr")
	pf.BoolVar(&flags.noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(buildCmd, devCmd, cacheCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.New(color.FgRed, color.Bold).Sprint("error:"), err)
		os.Exit(1)
	}
}

// Only flags given on the command line override the config file
func loadOptions(cmd *cobra.Command) (*config.Options, error) {
	overrides := map[string]any{}
	if cmd.Flags().Changed("mode") {
		overrides["mode"] = flags.mode
	}
	if cmd.Flags().Changed("minify") {
		overrides["minify"] = flags.minify
	}
	return config.Load(flags.root, flags.config, overrides)
}

func newZap() (*zap.Logger, error) {
	if !flags.verbose {
		return zap.NewNop(), nil
	}
	return zap.NewDevelopment()
}

func newLog() logger.Log {
	options := logger.StderrOptions{
		IncludeSource: true,
		ErrorLimit:    10,
		Color:         logger.ColorIfTerminal,
		LogLevel:      logger.LevelInfo,
	}
	if flags.noColor {
		options.Color = logger.ColorNever
		color.NoColor = true
	}
	if flags.verbose {
		options.LogLevel = logger.LevelDebug
	}
	return logger.NewStderrLog(options)
}
