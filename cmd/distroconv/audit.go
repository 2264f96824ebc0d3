package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Hash-chained audit trail",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that no audit record was altered or removed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openAudit()
		if err != nil {
			return err
		}
		ok, broken, err := l.Verify()
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println(styleError.Render(fmt.Sprintf("Audit chain broken at record %d", broken)))
			return &exitError{code: 1}
		}
		fmt.Println(styleSuccess.Render("Audit chain intact."))
		return nil
	},
}

var auditRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the latest audit records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openAudit()
		if err != nil {
			return err
		}
		recs, err := l.Recent(auditLimit)
		if err != nil {
			return err
		}
		for _, r := range recs {
			line := fmt.Sprintf("%s  %-8.8s %-14s %-10s %s", r.Timestamp, r.RunID, r.Action, r.Outcome, r.Resource)
			if r.Error != "" {
				line += "  " + styleError.Render(r.Error)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	auditRecentCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "Number of records")
	auditCmd.AddCommand(auditVerifyCmd, auditRecentCmd)
	rootCmd.AddCommand(auditCmd)
}
