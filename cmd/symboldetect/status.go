package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"symbol-detect/internal/progress"
	"symbol-detect/internal/store"
)

var (
	statusFollow bool
	statusJSON   bool
)

var statusCmd = &cobra.Command{
	Use:   "status <doc-dir> <run-id>",
	Short: "Show the progress of a detection run",
	Args:  cobra.ExactArgs(2),
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusFollow, "follow", "f", false, "keep watching until the run finishes")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output the full ledger as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	docDir := cfg.ResolveDocDir(args[0])
	runID := args[1]

	storage, err := store.NewStorage(docDir)
	if err != nil {
		return err
	}
	ledgerPath := filepath.Join(storage.RunDir(runID), progress.LedgerFileName)

	if statusFollow {
		_, err := progress.WaitForCompletion(cmd.Context(), ledgerPath, func(l progress.Ledger) {
			printSummary(cmd, l)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	ledger, err := progress.LoadLedger(ledgerPath)
	if err != nil {
		return fmt.Errorf("no progress ledger for run %s: %w", runID, err)
	}
	if statusJSON {
		data, err := json.MarshalIndent(ledger, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}
	printSummary(cmd, *ledger)
	return nil
}

func printSummary(cmd *cobra.Command, l progress.Ledger) {
	line := fmt.Sprintf("[%s] %.1f%% (%d/%d) %s",
		l.Status, l.ProgressPercent, l.CompletedSteps, l.TotalSteps, l.CurrentStep)
	if l.EstimatedTimeRemaining != "" {
		line += " ETA " + l.EstimatedTimeRemaining
	}
	if n := len(l.Errors); n > 0 {
		line += fmt.Sprintf(" errors=%d", n)
	}
	if n := len(l.Warnings); n > 0 {
		line += fmt.Sprintf(" warnings=%d", n)
	}
	cmd.Println(line)
}
