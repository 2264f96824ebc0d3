package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lyndonlyu/distroconv/internal/abort"
)

var abortClear bool

var abortCmd = &cobra.Command{
	Use:   "abort [reason]",
	Short: "Ask a running conversion to stop and roll back",
	Long: "Creates the abort file. A running conversion notices it, cancels the\n" +
		"current step and rolls back. Use --clear to remove a leftover request.",
	RunE: runAbort,
}

func init() {
	abortCmd.Flags().BoolVar(&abortClear, "clear", false, "Remove the abort file")
	rootCmd.AddCommand(abortCmd)
}

func runAbort(cmd *cobra.Command, args []string) error {
	t := abort.New(cfg.AbortPath())
	if abortClear {
		if err := t.Clear(); err != nil {
			return err
		}
		fmt.Println(styleSuccess.Render("Abort request cleared."))
		return nil
	}

	reason := strings.Join(args, " ")
	if reason == "" {
		reason = "requested by operator"
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	if err := t.Activate(reason); err != nil {
		return err
	}
	fmt.Println(styleWarn.Render("Abort requested: ") + reason)
	fmt.Println(styleDim.Render("File: " + t.Path()))
	return nil
}
