package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"symbol-detect/internal/store"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <doc-dir> <run-id>",
	Short: "Delete a detection run and all of its results",
	Args:  cobra.ExactArgs(2),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	storage, err := store.NewStorage(cfg.ResolveDocDir(args[0]))
	if err != nil {
		return err
	}
	removed, err := storage.DeleteRun(args[1])
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("run %s not found", args[1])
	}
	cmd.Println("Deleted run", args[1])
	return nil
}
