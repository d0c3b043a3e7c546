// Package main implements astrocommctl, a CLI for inspecting and
// administering a running astrocommd broker over its REST API.
package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/astrocomm/client"
)

var (
	cmdOutput io.Writer
	errOutput io.Writer
	serverURL string
	cli       *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "astrocommctl",
	Short: "astrocommctl inspects and administers a running astrocommd broker",
	Run:   func(cmd *cobra.Command, args []string) {},
}

func init() {
	cmdOutput = os.Stdout
	errOutput = os.Stderr
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8011", "astrocommd server URL")
	rootCmd.SetOut(cmdOutput)
	rootCmd.SetErr(errOutput)

	rootCmd.AddCommand(cliCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(pingCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

// getClient returns a client for --server, falling back to
// ASTROCOMMCTL_SERVER only if the flag was set to the empty string (its
// default is http://localhost:8011).
func getClient() *client.Client {
	if cli != nil {
		return cli
	}
	url := serverURL
	if url == "" {
		url = os.Getenv("ASTROCOMMCTL_SERVER")
	}
	if url == "" {
		return nil
	}
	cli = client.NewClient(url)
	return cli
}
