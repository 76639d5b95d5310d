package main

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/farm-fe/farm-sub000/internal/compiler"
	"github.com/farm-fe/farm-sub000/internal/logger"
	"github.com/farm-fe/farm-sub000/internal/metrics"
)

var errBuildFailed = errors.New("build failed")

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Compile the project and write its resources to the output directory",
	Args:  cobra.NoArgs,
	RunE:  runBuild,
}

func runBuild(cmd *cobra.Command, _ []string) error {
	options, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	z, err := newZap()
	if err != nil {
		return err
	}
	defer z.Sync()
	log := logger.NewZapLog(newLog(), z)

	c, err := compiler.New(options, compiler.Options{
		Log:     log,
		Zap:     z,
		Metrics: metrics.New(),
	})
	if err != nil {
		return err
	}

	start := time.Now()
	stats, err := c.Compile(cmd.Context())
	log.Done()
	if err != nil {
		return err
	}
	if log.HasErrors() {
		return errBuildFailed
	}
	written, err := c.Emit()
	if err != nil {
		return err
	}

	cacheStats, store := c.CacheStats()
	writeReport(os.Stdout, report{
		outputDir: c.OutputDir(),
		resources: c.Resources(),
		written:   written,
		stats:     stats,
		cache:     cacheStats,
		store:     store,
		elapsed:   time.Since(start),
	})
	return nil
}
