package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rtecgen/internal/memory"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and checkpoint the fluent memory",
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored fluent definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := openMemory()
		if err != nil {
			return err
		}
		defer closeFn()

		ids := store.ListIDs()
		if len(ids) == 0 {
			fmt.Println("memory is empty")
			return nil
		}
		for _, id := range ids {
			entry, _ := store.Get(id)
			fmt.Printf("%-24s score=%.4f  created=%s\n", id, entry.Score, entry.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var memoryExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write a JSON snapshot of the fluent memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := openMemory()
		if err != nil {
			return err
		}
		defer closeFn()

		data, err := store.Snapshot()
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[0], data, 0644); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		fmt.Printf("exported %d entries to %s\n", store.Len(), args[0])
		return nil
	},
}

var memoryImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load a JSON snapshot into the persistent fluent memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagDB == "" {
			return fmt.Errorf("import requires --db (a persistent store to import into)")
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read snapshot: %w", err)
		}
		store := memory.New()
		if err := store.Restore(data); err != nil {
			return err
		}

		persist, err := memory.OpenSQLite(flagDB)
		if err != nil {
			return err
		}
		defer persist.Close()

		for _, id := range store.ListIDs() {
			entry, _ := store.Get(id)
			if err := persist.Put(entry.ID, entry.Description, entry.Rules, entry.Score, entry.Metadata); err != nil {
				return err
			}
		}
		fmt.Printf("imported %d entries into %s\n", store.Len(), flagDB)
		return nil
	},
}

// openMemory loads the persistent store when --db is set, otherwise an
// empty in-memory store.
func openMemory() (*memory.Store, func(), error) {
	if flagDB == "" {
		return memory.New(), func() {}, nil
	}
	persist, err := memory.OpenSQLite(flagDB)
	if err != nil {
		return nil, nil, err
	}
	store, err := persist.LoadAll()
	if err != nil {
		persist.Close()
		return nil, nil, err
	}
	return store, func() { persist.Close() }, nil
}

func init() {
	memoryCmd.AddCommand(memoryListCmd)
	memoryCmd.AddCommand(memoryExportCmd)
	memoryCmd.AddCommand(memoryImportCmd)
	rootCmd.AddCommand(memoryCmd)
}
