package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lyndonlyu/distroconv/internal/conversion"
	"github.com/lyndonlyu/distroconv/internal/precheck"
)

var precheckFormat string

var precheckCmd = &cobra.Command{
	Use:   "precheck",
	Short: "Check whether this host can be converted",
	Args:  cobra.NoArgs,
	RunE:  runPrecheck,
}

func init() {
	precheckCmd.Flags().StringVar(&precheckFormat, "format", "", "Output format (json)")
	rootCmd.AddCommand(precheckCmd)
}

func runPrecheck(cmd *cobra.Command, args []string) error {
	result := precheck.DefaultRunner(cfg).Run()

	if precheckFormat == "json" {
		out, err := precheck.FormatRunResultJSON(result)
		if err != nil {
			return err
		}
		fmt.Println(out)
	} else {
		fmt.Print(precheck.FormatRunResult(result))
	}
	if !result.AllPassed {
		return &exitError{code: conversion.ExitInhibited}
	}
	return nil
}
