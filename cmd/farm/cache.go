package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/farm-fe/farm-sub000/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the persistent module cache",
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove every entry from the configured cache store",
	Args:  cobra.NoArgs,
	RunE:  runCacheClean,
}

func init() {
	cacheCmd.AddCommand(cacheCleanCmd)
}

func runCacheClean(cmd *cobra.Command, _ []string) error {
	options, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	// The store is cleared even when the cache is turned off
	options.PersistentCache.Enabled = true
	store, err := cache.OpenStore(options)
	if err != nil {
		return err
	}
	if err := clearStore(cmd.Context(), store); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "cleared %s cache\n", store.Name())
	return nil
}

func clearStore(ctx context.Context, store cache.Store) error {
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	if err := store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear the %s cache: %w", store.Name(), err)
	}
	return nil
}
