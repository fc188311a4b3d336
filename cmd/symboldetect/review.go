package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"symbol-detect/internal/coords"
	"symbol-detect/internal/store"
)

var (
	reviewAccept  []string
	reviewReject  []string
	reviewPending []string
	reviewDelete  []string
	reviewMove    string
	reviewMoveTo  []float64
	reviewBy      string

	addSymbolID string
	addPage     int
	addRect     []float64
)

var reviewCmd = &cobra.Command{
	Use:   "review <doc-dir> <run-id>",
	Short: "Accept, reject, or remove detections of a run",
	Long: `Applies review decisions to detections in batch. Unknown detection ids
are skipped. Run and symbol summaries are recomputed after the batch.`,
	Args: cobra.ExactArgs(2),
	RunE: runReview,
}

var addDetectionCmd = &cobra.Command{
	Use:   "add <doc-dir> <run-id>",
	Short: "Add a manually drawn detection to a run",
	Args:  cobra.ExactArgs(2),
	RunE:  runAddDetection,
}

func init() {
	reviewCmd.Flags().StringSliceVar(&reviewAccept, "accept", nil, "detection ids to accept")
	reviewCmd.Flags().StringSliceVar(&reviewReject, "reject", nil, "detection ids to reject")
	reviewCmd.Flags().StringSliceVar(&reviewPending, "pending", nil, "detection ids to reset to pending")
	reviewCmd.Flags().StringSliceVar(&reviewDelete, "delete", nil, "detection ids to remove entirely")
	reviewCmd.Flags().StringVar(&reviewMove, "move", "", "detection id to move")
	reviewCmd.Flags().Float64SliceVar(&reviewMoveTo, "to", nil, "new left,top,width,height in points for --move")
	reviewCmd.Flags().StringVar(&reviewBy, "by", "", "reviewer recorded on updated detections")
	rootCmd.AddCommand(reviewCmd)

	addDetectionCmd.Flags().StringVar(&addSymbolID, "symbol", "", "symbol id the detection belongs to")
	addDetectionCmd.Flags().IntVar(&addPage, "page", 0, "1-based page number")
	addDetectionCmd.Flags().Float64SliceVar(&addRect, "rect", nil, "left,top,width,height in points")
	addDetectionCmd.MarkFlagRequired("symbol")
	addDetectionCmd.MarkFlagRequired("page")
	addDetectionCmd.MarkFlagRequired("rect")
	rootCmd.AddCommand(addDetectionCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	storage, err := store.NewStorage(cfg.ResolveDocDir(args[0]))
	if err != nil {
		return err
	}
	runID := args[1]

	var updates []store.StatusUpdate
	for _, id := range reviewAccept {
		updates = append(updates, store.StatusUpdate{DetectionID: id, Action: store.ActionAccept, ReviewedBy: reviewBy})
	}
	for _, id := range reviewReject {
		updates = append(updates, store.StatusUpdate{DetectionID: id, Action: store.ActionReject, ReviewedBy: reviewBy})
	}
	for _, id := range reviewPending {
		updates = append(updates, store.StatusUpdate{DetectionID: id, Action: store.ActionPending, ReviewedBy: reviewBy})
	}

	if len(updates) == 0 && len(reviewDelete) == 0 && reviewMove == "" {
		return fmt.Errorf("nothing to do: pass --accept, --reject, --pending, --move, or --delete")
	}

	if len(updates) > 0 {
		if err := storage.UpdateDetectionStatus(runID, updates); err != nil {
			return err
		}
		cmd.Printf("Applied %d status updates\n", len(updates))
	}
	if reviewMove != "" {
		if len(reviewMoveTo) != 4 {
			return fmt.Errorf("--move needs --to with exactly 4 values: left,top,width,height")
		}
		doc := coords.DocumentCoordinates{Left: reviewMoveTo[0], Top: reviewMoveTo[1], Width: reviewMoveTo[2], Height: reviewMoveTo[3]}
		if !doc.Valid() {
			return fmt.Errorf("rectangle %v has no area", reviewMoveTo)
		}
		if err := storage.UpdateDetectionCoordinates(runID, reviewMove, doc, reviewBy); err != nil {
			return err
		}
		cmd.Println("Moved detection", reviewMove)
	}
	for _, id := range reviewDelete {
		if err := storage.DeleteDetection(runID, id); err != nil {
			return err
		}
	}
	if len(reviewDelete) > 0 {
		cmd.Printf("Deleted %d detections\n", len(reviewDelete))
	}
	return nil
}

func runAddDetection(cmd *cobra.Command, args []string) error {
	if len(addRect) != 4 {
		return fmt.Errorf("--rect needs exactly 4 values: left,top,width,height")
	}
	storage, err := store.NewStorage(cfg.ResolveDocDir(args[0]))
	if err != nil {
		return err
	}

	doc := coords.DocumentCoordinates{Left: addRect[0], Top: addRect[1], Width: addRect[2], Height: addRect[3]}
	if !doc.Valid() {
		return fmt.Errorf("rectangle %v has no area", addRect)
	}

	d, err := storage.AddUserDetection(args[1], addSymbolID, addPage, doc, reviewBy)
	if err != nil {
		return err
	}
	cmd.Println("Added detection", d.DetectionID)
	return nil
}
