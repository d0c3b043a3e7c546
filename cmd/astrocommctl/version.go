package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the broker's running version",
	Run: func(cmd *cobra.Command, args []string) {
		c := getClient()
		if c == nil {
			fmt.Fprintln(errOutput, "no server configured; set --server or ASTROCOMMCTL_SERVER")
			return
		}

		version, err := c.GetVersion()
		if err != nil {
			fmt.Fprintf(errOutput, "error fetching version: %v\n", err)
			return
		}

		jsonBytes, err := json.MarshalIndent(version, "", "  ")
		if err != nil {
			fmt.Fprintf(cmdOutput, "version: %+v\n", version)
			return
		}
		fmt.Fprintf(cmdOutput, "%s\n", string(jsonBytes))
	},
}
