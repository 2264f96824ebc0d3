package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lyndonlyu/distroconv/internal/sysinfo"
)

var factsFormat string

var factsCmd = &cobra.Command{
	Use:   "facts [package...]",
	Short: "Show what the engine knows about this host",
	RunE:  runFacts,
}

func init() {
	factsCmd.Flags().StringVar(&factsFormat, "format", "", "Output format (json)")
	rootCmd.AddCommand(factsCmd)
}

func runFacts(cmd *cobra.Command, args []string) error {
	pkgs := append([]string{cfg.SpecialCases.OpenJDK.Package}, args...)
	facts, err := sysinfo.Collect(cmd.Context(), sysinfo.NewHost(cfg.Root), pkgs...)
	if err != nil {
		return err
	}

	if factsFormat == "json" {
		data, err := json.MarshalIndent(facts, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	firmware := "BIOS"
	if facts.EFI {
		firmware = "UEFI"
	}
	fmt.Printf("%-12s %s (%s)\n", "System:", facts.Identity.Name, facts.Identity)
	fmt.Printf("%-12s %s\n", "Firmware:", firmware)
	names := make([]string, 0, len(facts.Packages))
	for n := range facts.Packages {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		state := styleDim.Render("not installed")
		if facts.Packages[n] {
			state = styleSuccess.Render("installed")
		}
		fmt.Printf("%-12s %s %s\n", "Package:", n, state)
	}
	return nil
}
