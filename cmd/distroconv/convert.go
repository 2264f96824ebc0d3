package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lyndonlyu/distroconv/internal/abort"
	"github.com/lyndonlyu/distroconv/internal/audit"
	"github.com/lyndonlyu/distroconv/internal/conversion"
	"github.com/lyndonlyu/distroconv/internal/metrics"
	"github.com/lyndonlyu/distroconv/internal/rollback"
	"github.com/lyndonlyu/distroconv/internal/statedb"
	"github.com/lyndonlyu/distroconv/internal/sysinfo"
)

var (
	convertYes         bool
	convertDryRun      bool
	convertFormat      string
	convertShowMetrics bool
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert this host, rolling back every change on failure",
	Long: "Runs the prerequisite checks, the special cases and the configured pipeline.\n" +
		"Exit status: 0 committed, 1 rolled back, 2 inhibited, 3 rollback incomplete.",
	Args: cobra.NoArgs,
	RunE: runConvert,
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback [run-id]",
	Short: "Restore what an interrupted or partially rolled back run left behind",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRollback,
}

func init() {
	convertCmd.Flags().BoolVarP(&convertYes, "yes", "y", false, "Do not ask before the point of no return")
	convertCmd.Flags().BoolVar(&convertDryRun, "dry-run", false, "Stop before the pipeline and revert everything")
	convertCmd.Flags().StringVar(&convertFormat, "format", "", "Output format (json)")
	convertCmd.Flags().BoolVar(&convertShowMetrics, "metrics", false, "Print run metrics when done")
	rollbackCmd.Flags().StringVar(&convertFormat, "format", "", "Output format (json)")
	rootCmd.AddCommand(convertCmd, rollbackCmd)
}

func newDriver(store *statedb.DB, auditLog *audit.Logger, m *metrics.Run) (*conversion.Driver, error) {
	return conversion.New(conversion.Options{
		Config:  cfg,
		Query:   sysinfo.NewHost(cfg.Root),
		Confirm: confirmer(convertYes),
		Store:   store,
		Audit:   auditLog,
		Drift:   audit.NewDriftTracker(cfg.AuditDir()),
		Metrics: m,
		Abort:   abort.New(cfg.AbortPath()),
		DryRun:  convertDryRun,
	})
}

func runConvert(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	auditLog, err := openAudit()
	if err != nil {
		return err
	}
	m := metrics.NewRun()
	d, err := newDriver(store, auditLog, m)
	if err != nil {
		return err
	}

	// Signals stay captured until Run returns: the first cancels the run,
	// later ones must not kill the rollback.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if convertFormat != "json" {
		fmt.Fprintln(os.Stderr, styleBanner.Render("distroconv "+version))
	}
	res := d.Run(ctx)
	if err := printResult(os.Stdout, res); err != nil {
		return err
	}
	if convertShowMetrics {
		if snap, err := m.Snapshot(); err == nil {
			fmt.Fprint(os.Stdout, "\n"+metrics.FormatHuman(snap))
		}
	}
	if code := conversion.ExitCode(res); code != 0 {
		return &exitError{code: code, err: res.Err}
	}
	return nil
}

func runRollback(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	auditLog, err := openAudit()
	if err != nil {
		return err
	}
	d, err := newDriver(store, auditLog, metrics.NewRun())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	var runID string
	if len(args) == 1 {
		runID = args[0]
	}
	res, err := d.RollbackRun(ctx, runID)
	if errors.Is(err, conversion.ErrNothingToRecover) {
		fmt.Println(styleDim.Render(err.Error()))
		return nil
	}
	if err != nil {
		return err
	}
	if err := printResult(os.Stdout, res); err != nil {
		return err
	}
	if code := conversion.ExitCode(res); code != 0 {
		return &exitError{code: code, err: res.Err}
	}
	return nil
}

func printResult(w io.Writer, res conversion.Result) error {
	if convertFormat == "json" {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	label := ""
	if res.DryRun {
		label = styleDim.Render(" (dry run)")
	}
	fmt.Fprintf(w, "Run %s: %s%s\n", res.RunID, renderPhase(res.Phase), label)

	if res.Checks != nil && !res.Checks.AllPassed {
		fmt.Fprintln(w, "\nInhibitors:")
		for _, c := range res.Checks.Failed() {
			fmt.Fprintf(w, "  %s %s: %s\n", styleError.Render("[FAIL]"), c.Name, c.Message)
		}
	}
	if res.Cases != nil && len(res.Cases.Results) > 0 {
		fmt.Fprintln(w, "\nSpecial cases:")
		for _, c := range res.Cases.Results {
			detail := c.Reason
			if c.Error != "" {
				detail = c.Error
			}
			fmt.Fprintf(w, "  %s %s %s\n", renderOutcome(c.Outcome), c.Case, styleDim.Render(detail))
		}
	}
	if res.Rollback != nil {
		fmt.Fprint(w, "\n"+rollback.FormatSummary(*res.Rollback))
	}
	if len(res.Drift) > 0 {
		fmt.Fprintf(w, "\n%s\n", styleWarn.Render("Files that differ from their pre-run content:"))
		for _, d := range res.Drift {
			fmt.Fprintf(w, "  %s\n", d.Path)
		}
	}
	if res.Err != nil && res.Phase != conversion.PhaseInhibited {
		fmt.Fprintf(w, "\n%s%s\n", styleError.Render("Error: "), res.Error)
	}
	if res.Phase == conversion.PhaseRollbackPartial {
		fmt.Fprintf(w, "\nFix the files listed above, then run `distroconv rollback %s`.\n", res.RunID)
	}
	return nil
}
