package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"symbol-detect/internal/store"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list <doc-dir>",
	Short: "List detection runs for a document, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output the run index as JSON")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	storage, err := store.NewStorage(cfg.ResolveDocDir(args[0]))
	if err != nil {
		return err
	}
	runs, err := storage.ListRuns()
	if err != nil {
		return err
	}

	if listJSON {
		data, err := json.MarshalIndent(runs, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}

	if len(runs) == 0 {
		cmd.Println("No detection runs.")
		return nil
	}
	for _, r := range runs {
		cmd.Printf("%s  %s  %-12s %d symbols, %d detections\n",
			r.RunID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Status,
			r.SymbolCount, r.Summary.TotalDetections)
	}
	return nil
}
