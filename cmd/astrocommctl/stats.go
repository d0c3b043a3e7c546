package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Display runtime and traffic stats",
	Long:  `Display runtime and traffic stats from the broker's /api/stats endpoint`,
	Run:   statsRun,
}

func statsRun(cmd *cobra.Command, args []string) {
	c := getClient()
	if c == nil {
		fmt.Fprintln(errOutput, "no server configured; set --server or ASTROCOMMCTL_SERVER")
		return
	}

	stats, err := c.GetStats()
	if err != nil {
		fmt.Fprintf(errOutput, "error fetching stats: %v\n", err)
		return
	}

	jsonBytes, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		fmt.Fprintf(cmdOutput, "stats: %+v\n", stats)
		return
	}
	fmt.Fprintf(cmdOutput, "%s\n", string(jsonBytes))
}
