package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/lyndonlyu/distroconv/internal/report"
	"github.com/lyndonlyu/distroconv/internal/statedb"
)

var (
	runsFormat  string
	runsLimit   int
	reportRaw   bool
	reportPlain bool
	reportWidth int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Recorded conversion runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its pending ledger and special cases",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var reportCmd = &cobra.Command{
	Use:   "report <run-id>",
	Short: "Render a markdown report of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

func init() {
	runsListCmd.Flags().StringVar(&runsFormat, "format", "", "Output format (json)")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 10, "Number of runs to show")
	runsCmd.AddCommand(runsListCmd, runsShowCmd)

	reportCmd.Flags().BoolVar(&reportRaw, "raw", false, "Print the markdown source")
	reportCmd.Flags().BoolVar(&reportPlain, "plain", false, "Render without colors")
	reportCmd.Flags().IntVar(&reportWidth, "width", 100, "Word wrap width")
	rootCmd.AddCommand(runsCmd, reportCmd)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.ListRuns(runsLimit)
	if err != nil {
		return err
	}
	if runsFormat == "json" {
		out, err := statedb.FormatRunListJSON(runs)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}
	fmt.Print(statedb.FormatRunList(runs))
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	run, err := db.GetRun(args[0])
	if err != nil {
		return err
	}
	ledger, err := db.LedgerRecords(run.ID)
	if err != nil {
		return err
	}
	cases, err := db.Cases(run.ID)
	if err != nil {
		return err
	}
	fmt.Print(statedb.FormatRun(run, ledger, cases))
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	in := report.Input{}
	if in.Run, err = db.GetRun(args[0]); err != nil {
		return err
	}
	if in.Cases, err = db.Cases(in.Run.ID); err != nil {
		return err
	}
	if in.Pending, err = db.LedgerRecords(in.Run.ID); err != nil {
		return err
	}
	auditLog, err := openAudit()
	if err != nil {
		return err
	}
	if in.Events, err = auditLog.ForRun(in.Run.ID); err != nil {
		return err
	}

	md, err := report.Markdown(in)
	if err != nil {
		return err
	}
	if reportRaw {
		fmt.Print(md)
		return nil
	}
	plain := reportPlain || !isatty.IsTerminal(os.Stdout.Fd())
	out, err := report.Render(md, reportWidth, plain)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}
