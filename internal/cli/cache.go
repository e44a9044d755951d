package cli

import (
	"fmt"

	"github.com/sahaay-labs/sahaay/internal/cache"
	"github.com/sahaay-labs/sahaay/internal/config"
	"github.com/spf13/cobra"
)

// CacheCmd returns the cache command with its subcommands
func CacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the disk cache",
	}

	cmd.AddCommand(cacheStatsCmd())
	cmd.AddCommand(cacheClearCmd())

	return cmd
}

func cacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print cache entry count and hit/miss counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			stats := store.Stats()
			total := stats.HitCount + stats.MissCount
			hitRate := 0.0
			if total > 0 {
				hitRate = float64(stats.HitCount) / float64(total)
			}

			fmt.Printf("entries:   %d\n", stats.Size)
			fmt.Printf("hits:      %d\n", stats.HitCount)
			fmt.Printf("misses:    %d\n", stats.MissCount)
			fmt.Printf("hit rate:  %.2f%%\n", hitRate*100)
			return nil
		},
	}
}

func cacheClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cached entries, optionally scoped to one namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			namespace, _ := cmd.Flags().GetString("namespace")

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if namespace == "" {
				if err := store.Clear(); err != nil {
					return fmt.Errorf("failed to clear cache: %w", err)
				}
				fmt.Println("cache cleared")
				return nil
			}

			switch namespace {
			case cache.NamespaceEmbedding, cache.NamespaceRetrieval, cache.NamespaceResponse:
			default:
				return fmt.Errorf("unknown namespace %q (valid: %s, %s, %s)",
					namespace, cache.NamespaceEmbedding, cache.NamespaceRetrieval, cache.NamespaceResponse)
			}
			if err := store.ClearNamespace(namespace); err != nil {
				return fmt.Errorf("failed to clear namespace %s: %w", namespace, err)
			}
			fmt.Printf("namespace %s cleared\n", namespace)
			return nil
		},
	}

	cmd.Flags().String("namespace", "", "Namespace to clear (emb, ret, ans); all when omitted")

	return cmd
}

func openStore() (*cache.DiskStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	store, err := cache.Open(cfg.CacheDir, cfg.CacheMemEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return store, nil
}
