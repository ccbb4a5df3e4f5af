package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-pioneer/internal/bridges/pioneer"
)

// errUsage marks a malformed command line.
var errUsage = errors.New("usage")

// runCommand executes one command line against an open device and prints
// the result. It backs both the subcommands and the interactive shell.
func runCommand(ctx context.Context, dev *pioneer.Device, w io.Writer, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}

	switch args[0] {
	case "status":
		if !dev.Update(ctx) {
			return fmt.Errorf("%w: %s", pioneer.ErrConnectionFailed, dev.Address())
		}
		printState(w, dev)
		return nil

	case "power":
		switch arg(args, 1) {
		case "on":
			return report(ctx, w, dev, dev.TurnOn(ctx))
		case "off":
			return report(ctx, w, dev, dev.TurnOff(ctx))
		}
		return fmt.Errorf("%w: power on|off", errUsage)

	case "volume":
		switch arg(args, 1) {
		case "up":
			return report(ctx, w, dev, dev.VolumeUp(ctx))
		case "down":
			return report(ctx, w, dev, dev.VolumeDown(ctx))
		case "set":
			level, err := strconv.ParseFloat(arg(args, 2), 64)
			if err != nil {
				return fmt.Errorf("%w: volume set <0..1>", errUsage)
			}
			return report(ctx, w, dev, dev.SetVolume(ctx, level))
		}
		return fmt.Errorf("%w: volume set <0..1>|up|down", errUsage)

	case "mute":
		switch arg(args, 1) {
		case "on":
			return report(ctx, w, dev, dev.Mute(ctx))
		case "off":
			return report(ctx, w, dev, dev.Unmute(ctx))
		}
		return fmt.Errorf("%w: mute on|off", errUsage)

	case "source":
		switch arg(args, 1) {
		case "list":
			for _, name := range dev.SourceList() {
				fmt.Fprintln(w, name)
			}
			return nil
		case "select":
			name := strings.Join(args[2:], " ")
			if name == "" {
				return fmt.Errorf("%w: source select <name>", errUsage)
			}
			return report(ctx, w, dev, dev.SelectSource(ctx, name))
		}
		return fmt.Errorf("%w: source list|select <name>", errUsage)
	}

	return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

// report re-polls and prints the state after a successful command.
// Commands are fire-and-forget, so the cache only reflects them after a poll.
func report(ctx context.Context, w io.Writer, dev *pioneer.Device, err error) error {
	if err != nil {
		return err
	}
	if !dev.Update(ctx) {
		return fmt.Errorf("%w: %s", pioneer.ErrConnectionFailed, dev.Address())
	}
	printState(w, dev)
	return nil
}

func printState(w io.Writer, dev *pioneer.Device) {
	fmt.Fprintf(w, "name:    %s\n", dev.Name())
	fmt.Fprintf(w, "address: %s\n", dev.Address())
	fmt.Fprintf(w, "power:   %s\n", dev.Power())

	if level, ok := dev.VolumeLevel(); ok {
		fmt.Fprintf(w, "volume:  %.3f (%03d)\n", level, pioneer.VolumeToCode(level))
	} else {
		fmt.Fprintln(w, "volume:  unknown")
	}

	if muted, ok := dev.IsMuted(); ok {
		fmt.Fprintf(w, "muted:   %t\n", muted)
	} else {
		fmt.Fprintln(w, "muted:   unknown")
	}

	if source, ok := dev.Source(); ok {
		fmt.Fprintf(w, "source:  %s\n", source)
	} else {
		fmt.Fprintln(w, "source:  unknown")
	}
}

func newStatusCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Poll the receiver and print its state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Setup already ran the first poll.
			dev, err := o.openDevice(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			printState(cmd.OutOrStdout(), dev)
			return nil
		},
	}
}

func newPowerCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:       "power on|off",
		Short:     "Switch the receiver on or to standby",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.deviceAction(cmd, "power", args[0])
		},
	}
}

func newVolumeCmd(o *options) *cobra.Command {
	volume := &cobra.Command{
		Use:   "volume",
		Short: "Set or step the master volume",
	}
	volume.AddCommand(
		&cobra.Command{
			Use:   "set <level>",
			Short: "Set volume to a level between 0 and 1",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return o.deviceAction(cmd, "volume", "set", args[0])
			},
		},
		&cobra.Command{
			Use:   "up",
			Short: "Step volume up",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return o.deviceAction(cmd, "volume", "up")
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Step volume down",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return o.deviceAction(cmd, "volume", "down")
			},
		},
	)
	return volume
}

func newMuteCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:       "mute on|off",
		Short:     "Mute or unmute",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.deviceAction(cmd, "mute", args[0])
		},
	}
}

func newSourceCmd(o *options) *cobra.Command {
	source := &cobra.Command{
		Use:   "source",
		Short: "List or select inputs",
	}
	source.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the receiver's named inputs",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return o.deviceAction(cmd, "source", "list")
			},
		},
		&cobra.Command{
			Use:   "select <name>",
			Short: "Select an input by name",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return o.deviceAction(cmd, append([]string{"source", "select"}, args...)...)
			},
		},
	)
	return source
}
