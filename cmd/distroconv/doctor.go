package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lyndonlyu/distroconv/internal/health"
)

var doctorFormat string

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Verify the state directory, audit trail and run lock",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func init() {
	doctorCmd.Flags().StringVar(&doctorFormat, "format", "", "Output format (json)")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	r := health.Evaluate(cfg)

	if doctorFormat == "json" {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		fmt.Println(styleBanner.Render("distroconv doctor"))
		fmt.Println()
		for _, c := range r.Components {
			mark := styleSuccess.Render("[OK]  ")
			if !c.Healthy {
				mark = styleError.Render("[FAIL]")
				if c.Category == health.Optional {
					mark = styleWarn.Render("[WARN]")
				}
			}
			fmt.Printf("%s %-16s %s\n", mark, c.Name, styleDim.Render(c.Detail))
		}
		fmt.Printf("\nHealth: %s\n", r.Level)
	}
	if r.Level > health.YELLOW {
		return &exitError{code: 1}
	}
	return nil
}
