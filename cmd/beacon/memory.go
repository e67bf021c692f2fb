package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/beaconhq/beacon/internal/memory"
	"github.com/beaconhq/beacon/internal/workspace"
)

func buildMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and manage long-term memory",
	}
	cmd.AddCommand(
		buildMemorySearchCmd(),
		buildMemorySaveCmd(),
		buildMemoryForgetCmd(),
		buildMemoryGCCmd(),
		buildMemoryIndexLogsCmd(),
	)
	return cmd
}

// openMemoryStore opens the store without an embedder; CLI reads fall back
// to full-text search, which needs no running model server.
func openMemoryStore() (*memory.Store, *workspace.Workspace, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	ws := workspace.New(cfg.Workspace.Path)
	if _, err := ws.Bootstrap(); err != nil {
		return nil, nil, nil, err
	}
	store, err := memory.Open(memory.Config{
		Path:      ws.MemoryDBPath(),
		Dimension: cfg.Providers.Embedding.Dimension,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return store, ws, func() { store.Close() }, nil
}

func buildMemorySearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search stored memories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, closeStore, err := openMemoryStore()
			if err != nil {
				return err
			}
			defer closeStore()

			query := strings.Join(args, " ")
			hits, err := store.SearchHybrid(context.Background(), query, limit, memory.Weights{}, memory.Filters{})
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Println("no matches")
				return nil
			}
			for _, hit := range hits {
				fmt.Printf("%.2f  %s  %s\n", hit.Score, hit.Record.Key, hit.Record.Value)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum results")
	return cmd
}

func buildMemorySaveCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "save [key] [value]",
		Short: "Save a memory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, closeStore, err := openMemoryStore()
			if err != nil {
				return err
			}
			defer closeStore()

			key, err := store.Set(context.Background(), args[0], args[1], memory.SetOptions{
				Category: category,
			})
			if err != nil {
				return err
			}
			fmt.Println("saved", key)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Category (fact, preference, decision, project, entity, lesson)")
	return cmd
}

func buildMemoryForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget [key]",
		Short: "Delete a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, closeStore, err := openMemoryStore()
			if err != nil {
				return err
			}
			defer closeStore()

			deleted, err := store.Delete(context.Background(), args[0])
			if err != nil {
				return err
			}
			if !deleted {
				fmt.Println("no such key")
				return nil
			}
			fmt.Println("forgot", args[0])
			return nil
		},
	}
}

func buildMemoryGCCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Collect stale automatic and conversation memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, _, closeStore, err := openMemoryStore()
			if err != nil {
				return err
			}
			defer closeStore()

			result, err := store.CollectGarbage(context.Background(),
				cfg.Memory.AutoMaxAge, cfg.Memory.ConversationMaxAge, dryRun)
			if err != nil {
				return err
			}
			verb := "deleted"
			if dryRun {
				verb = "would delete"
			}
			fmt.Printf("%s %d, kept %d recently used\n", verb, len(result.Deleted), result.Skipped)
			for _, key := range result.Deleted {
				fmt.Println("  ", key)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report without deleting")
	return cmd
}

func buildMemoryIndexLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index-logs",
		Short: "Index daily logs into searchable memory",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, ws, closeStore, err := openMemoryStore()
			if err != nil {
				return err
			}
			defer closeStore()

			indexed, err := store.IndexDailyLogs(context.Background(), ws)
			if err != nil {
				return err
			}
			fmt.Printf("indexed %d day(s)\n", indexed)
			return nil
		},
	}
}
