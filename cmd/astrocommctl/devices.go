package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Display the registered device catalog",
	Long:  `Display the registered device catalog from the broker's /api/devices endpoint`,
	Run:   devicesRun,
}

func devicesRun(cmd *cobra.Command, args []string) {
	c := getClient()
	if c == nil {
		fmt.Fprintln(errOutput, "no server configured; set --server or ASTROCOMMCTL_SERVER")
		return
	}

	devices, err := c.GetDevices()
	if err != nil {
		fmt.Fprintf(errOutput, "error fetching devices: %v\n", err)
		return
	}
	if len(devices) == 0 {
		fmt.Fprintln(cmdOutput, "no devices registered")
		return
	}

	jsonBytes, err := json.MarshalIndent(devices, "", "  ")
	if err != nil {
		fmt.Fprintf(cmdOutput, "devices: %+v\n", devices)
		return
	}
	fmt.Fprintf(cmdOutput, "%s\n", string(jsonBytes))
}
