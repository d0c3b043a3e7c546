package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check whether the broker is reachable",
	Run: func(cmd *cobra.Command, args []string) {
		c := getClient()
		if c == nil {
			fmt.Fprintln(errOutput, "no server configured; set --server or ASTROCOMMCTL_SERVER")
			return
		}
		if err := c.Ping(); err != nil {
			fmt.Fprintf(cmdOutput, "unreachable: %v\n", err)
			return
		}
		fmt.Fprintln(cmdOutput, "ok")
	},
}
