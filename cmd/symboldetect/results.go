package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"symbol-detect/internal/store"
)

var resultsJSON bool

var resultsCmd = &cobra.Command{
	Use:   "results <doc-dir> <run-id>",
	Short: "Show the detections of a run",
	Args:  cobra.ExactArgs(2),
	RunE:  runResults,
}

func init() {
	resultsCmd.Flags().BoolVar(&resultsJSON, "json", false, "output the full run as JSON")
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	storage, err := store.NewStorage(cfg.ResolveDocDir(args[0]))
	if err != nil {
		return err
	}
	loaded, err := storage.LoadRun(args[1])
	if err != nil {
		return err
	}

	if resultsJSON {
		data, err := json.MarshalIndent(loaded, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("Run %s [%s] %d detections across %d symbols\n",
		loaded.RunID, loaded.Status, loaded.Summary.TotalDetections, loaded.Summary.CompletedSymbols)

	symbolIDs := make([]string, 0, len(loaded.SymbolDetections))
	for id := range loaded.SymbolDetections {
		symbolIDs = append(symbolIDs, id)
	}
	sort.Strings(symbolIDs)

	for _, id := range symbolIDs {
		result := loaded.SymbolDetections[id]
		s := result.Summary
		cmd.Printf("\n%s (%s): %d detections on %d pages, avg conf %.2f, avg IoU %.2f\n",
			result.Info.Name, id, s.TotalDetections, s.PagesWithDetections, s.AvgConfidence, s.AvgIoU)

		pages := make([]int, 0, len(result.DetectionsByPage))
		for page := range result.DetectionsByPage {
			pages = append(pages, page)
		}
		sort.Ints(pages)
		for _, page := range pages {
			for _, d := range result.DetectionsByPage[page] {
				flags := ""
				if d.UserAdded {
					flags = " user-added"
				} else if d.UserModified {
					flags = " modified"
				}
				cmd.Printf("  p%-4d %-8s conf %.2f iou %.2f at (%.1f, %.1f) %.1fx%.1f pt%s\n",
					page, d.Status, d.Confidence, d.IoU,
					d.Document.Left, d.Document.Top, d.Document.Width, d.Document.Height, flags)
			}
		}
	}
	if len(symbolIDs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No symbol results recorded.")
	}
	return nil
}
