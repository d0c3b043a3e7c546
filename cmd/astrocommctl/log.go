package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/astrocomm/logging"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Display and configure the broker's logging",
	RunE:  runLog,
}

var (
	setLevel  string
	setFormat string
)

var logSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change the broker's running log level or format",
	RunE:  runLogSet,
}

func init() {
	logSetCmd.Flags().StringVar(&setLevel, "level", "", "new log level (debug, info, warn, error)")
	logSetCmd.Flags().StringVar(&setFormat, "format", "", "new log format (text, json)")
	logCmd.AddCommand(logSetCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	c := getClient()
	if c == nil {
		return fmt.Errorf("no server configured; set --server or ASTROCOMMCTL_SERVER")
	}

	lc, err := c.GetLogConfig()
	if err != nil {
		fmt.Fprintf(errOutput, "failed to retrieve log config: %v\n", err)
		return err
	}
	fmt.Fprintf(cmdOutput, "Level: %s\n", lc.Level)
	fmt.Fprintf(cmdOutput, "Format: %s\n", lc.Format)
	fmt.Fprintf(cmdOutput, "Output: %s\n", lc.Output)
	fmt.Fprintf(cmdOutput, "FilePath: %s\n", lc.FilePath)
	return nil
}

func runLogSet(cmd *cobra.Command, args []string) error {
	c := getClient()
	if c == nil {
		return fmt.Errorf("no server configured; set --server or ASTROCOMMCTL_SERVER")
	}

	current, err := c.GetLogConfig()
	if err != nil {
		return fmt.Errorf("failed to retrieve current log config: %w", err)
	}
	next := logging.Config{
		Level:    current.Level,
		Format:   current.Format,
		Output:   current.Output,
		FilePath: current.FilePath,
	}
	if setLevel != "" {
		next.Level = setLevel
	}
	if setFormat != "" {
		next.Format = setFormat
	}

	applied, err := c.SetLogConfig(next)
	if err != nil {
		fmt.Fprintf(errOutput, "failed to update log config: %v\n", err)
		return err
	}
	fmt.Fprintf(cmdOutput, "Level: %s\n", applied.Level)
	fmt.Fprintf(cmdOutput, "Format: %s\n", applied.Format)
	return nil
}
