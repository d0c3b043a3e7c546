package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

var cliCmd = &cobra.Command{
	Use:   "cli",
	Short: "Run astrocommctl in interactive mode",
	Run:   cliRun,
}

var rl *readline.Instance

func initReadline() {
	completer := readline.NewPrefixCompleter()
	for _, child := range rootCmd.Commands() {
		pcFromCommands(completer, child)
	}

	var err error
	rl, err = readline.NewEx(&readline.Config{
		Prompt:            "astrocommctl\033[31m»\033[0m ",
		HistoryFile:       "/tmp/astrocommctl_history.tmp",
		AutoComplete:      completer,
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	rl.CaptureExitSignal()
}

func pcFromCommands(parent readline.PrefixCompleterInterface, c *cobra.Command) {
	pc := readline.PcItem(c.Use)
	parent.SetChildren(append(parent.GetChildren(), pc))
	for _, child := range c.Commands() {
		pcFromCommands(pc, child)
	}
}

func cliRun(cmd *cobra.Command, args []string) {
	initReadline()
	defer rl.Close()

	for runLine() {
	}
	fmt.Fprintln(cmdOutput, "Good bye!")
}

func runLine() bool {
	line, err := rl.Readline()
	switch err {
	case readline.ErrInterrupt:
		return len(line) != 0
	case io.EOF:
		return false
	}

	line = strings.TrimSpace(line)
	if line == "exit" || line == "quit" {
		return false
	}
	if line == "" {
		return true
	}

	args := strings.Split(line, " ")
	target, remaining, err := rootCmd.Find(args)
	if err != nil {
		fmt.Fprintf(errOutput, "error running %q: %s\n", line, err)
		return true
	}
	target.ParseFlags(remaining)
	target.Run(target, remaining)
	return true
}
