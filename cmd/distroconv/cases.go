package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/lyndonlyu/distroconv/internal/specialcases"
)

var casesCmd = &cobra.Command{
	Use:   "cases",
	Short: "Special cases handled before the conversion",
}

var casesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List builtin special cases",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, c := range specialcases.Builtin(cfg) {
			name := fmt.Sprintf("%-24s", c.Name)
			if slices.Contains(cfg.SpecialCases.Disabled, c.Name) {
				fmt.Printf("%s %s\n", styleDim.Render(name), styleDim.Render(c.Description+" (disabled)"))
				continue
			}
			fmt.Printf("%s %s\n", name, c.Description)
		}
	},
}

func init() {
	casesCmd.AddCommand(casesListCmd)
	rootCmd.AddCommand(casesCmd)
}
