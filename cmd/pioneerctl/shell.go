package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-pioneer/internal/bridges/pioneer"
)

// lineReader is the part of readline.Instance the shell loop uses.
type lineReader interface {
	Readline() (string, error)
}

func newShellCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive prompt over the same commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dev, err := o.openDevice(cmd.Context(), cmd)
			if err != nil {
				return err
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "pioneer> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
				AutoComplete:    shellCompleter(dev),
			})
			if err != nil {
				return fmt.Errorf("failed to create readline: %w", err)
			}
			defer rl.Close()

			return shellLoop(cmd.Context(), dev, rl, rl.Stdout())
		},
	}
}

// shellLoop reads command lines until EOF, "exit" or ctx ends. Command
// errors are printed and the loop continues.
func shellLoop(ctx context.Context, dev *pioneer.Device, rl lineReader, w io.Writer) error {
	printShellHelp(w)

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			return nil
		}

		args := strings.Fields(strings.TrimSpace(line))
		if len(args) == 0 {
			continue
		}

		switch strings.ToLower(args[0]) {
		case "exit", "quit", "q":
			return nil
		case "help", "?":
			printShellHelp(w)
			continue
		}

		if err := runCommand(ctx, dev, w, args); err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
		}
	}
}

func printShellHelp(w io.Writer) {
	fmt.Fprint(w, `Commands:
  status                     poll and print state
  power on|off
  volume set <0..1>|up|down
  mute on|off
  source list
  source select <name>
  help, exit
`)
}

// shellCompleter completes commands and the device's input names.
func shellCompleter(dev *pioneer.Device) *readline.PrefixCompleter {
	var sources []readline.PrefixCompleterInterface
	for _, name := range dev.SourceList() {
		sources = append(sources, readline.PcItem(name))
	}

	return readline.NewPrefixCompleter(
		readline.PcItem("status"),
		readline.PcItem("power", readline.PcItem("on"), readline.PcItem("off")),
		readline.PcItem("volume", readline.PcItem("set"), readline.PcItem("up"), readline.PcItem("down")),
		readline.PcItem("mute", readline.PcItem("on"), readline.PcItem("off")),
		readline.PcItem("source", readline.PcItem("list"), readline.PcItem("select", sources...)),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}
