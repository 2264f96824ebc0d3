package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lyndonlyu/distroconv/internal/audit"
	"github.com/lyndonlyu/distroconv/internal/gc"
)

var (
	gcPolicy = gc.DefaultPolicy()
	gcFormat string
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove backup copies of runs that can no longer be rolled back",
	Args:  cobra.NoArgs,
	RunE:  runGC,
}

func init() {
	gcCmd.Flags().IntVar(&gcPolicy.MaxAgeDays, "max-age-days", gcPolicy.MaxAgeDays, "Prune settled runs older than this")
	gcCmd.Flags().IntVar(&gcPolicy.MaxRuns, "max-runs", gcPolicy.MaxRuns, "Keep backups of this many recent settled runs")
	gcCmd.Flags().BoolVar(&gcPolicy.DryRun, "dry-run", false, "Report without deleting")
	gcCmd.Flags().StringVar(&gcFormat, "format", "", "Output format (json)")
	rootCmd.AddCommand(gcCmd)
}

func runGC(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.ListRuns(0)
	if err != nil {
		return err
	}
	res, err := gc.Run(runs, gcPolicy, time.Now())
	if err != nil {
		return err
	}
	if !gcPolicy.DryRun {
		drift := audit.NewDriftTracker(cfg.AuditDir())
		for _, id := range res.Pruned {
			drift.Forget(id)
		}
	}

	if gcFormat == "json" {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	verb := "Pruned"
	if gcPolicy.DryRun {
		verb = "Would prune"
	}
	for _, id := range res.Pruned {
		fmt.Printf("  %s %s\n", styleDim.Render("-"), id)
	}
	fmt.Printf("%s %d run(s), %d kept, %s freed\n", verb, len(res.Pruned), res.Kept, humanBytes(res.BytesFreed))
	return nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
