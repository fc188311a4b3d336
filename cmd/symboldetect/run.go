package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"symbol-detect/internal/coordinator"
	"symbol-detect/internal/detect"
)

var (
	runSymbolIDs []string
	runOverlay   bool
	runThreshold float64
	runIoU       float64
)

var runCmd = &cobra.Command{
	Use:   "run <doc-dir>",
	Short: "Run symbol detection over a document",
	Long: `Runs the full detection pass: every selected symbol template is matched
against every page of the document. Progress is written to the run's
progress.json and can be followed with the status command.

Interrupting with Ctrl-C stops the run between pages and marks it failed.`,
	Args: cobra.ExactArgs(1),
	RunE: runDetection,
}

func init() {
	runCmd.Flags().StringSliceVar(&runSymbolIDs, "symbols", nil, "symbol ids to process (default: all)")
	runCmd.Flags().BoolVar(&runOverlay, "overlay", false, "write debug overlay images for pages with candidates")
	runCmd.Flags().Float64Var(&runThreshold, "match-threshold", 0, "override match threshold")
	runCmd.Flags().Float64Var(&runIoU, "iou-threshold", 0, "override IoU threshold")
	rootCmd.AddCommand(runCmd)
}

func runDetection(cmd *cobra.Command, args []string) error {
	docDir := cfg.ResolveDocDir(args[0])

	params := cfg.Detection
	if params == (detect.Params{}) {
		params = detect.DefaultParams()
	}
	if runThreshold > 0 {
		params.MatchThreshold = runThreshold
	}
	if runIoU > 0 {
		params.IoUThreshold = runIoU
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := coordinator.New(coordinator.NewEngine(), nil)
	runID, err := c.Run(ctx, docDir, coordinator.Options{
		Params:       params,
		SymbolIDs:    runSymbolIDs,
		PageBaseDPI:  cfg.PageBaseDPI,
		DebugOverlay: runOverlay || cfg.DebugOverlay,
	})
	if err != nil {
		if runID != "" {
			return fmt.Errorf("run %s failed: %w", runID, err)
		}
		return err
	}

	cmd.Println("Run completed:", runID)
	return nil
}
