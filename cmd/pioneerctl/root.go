package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-pioneer/internal/bridges/pioneer"
	"github.com/nerrad567/gray-logic-pioneer/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-pioneer/internal/infrastructure/logging"
)

// options holds the persistent connection flags.
type options struct {
	host       string
	port       int
	timeout    time.Duration
	name       string
	stepped    bool
	transport  string
	serialPort string
	baud       int
	sources    map[string]string
	logLevel   string

	// deviceOpts are appended to every opened device. Tests use it to
	// shorten response timeouts.
	deviceOpts []pioneer.Option
}

func newRootCmd() *cobra.Command {
	return buildRootCmd(&options{})
}

func buildRootCmd(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:   "pioneerctl",
		Short: "Control a Pioneer AV receiver",
		Long: `pioneerctl - talk to a Pioneer AV receiver over its telnet control port
or its RS-232 port.

Connection modes:
  TCP:    --host 192.168.1.50 [--port 23]   (some models listen on 8102)
  Serial: --transport serial --serial-port /dev/ttyUSB0 [--baud 9600]

Receivers that ignore absolute volume commands need --stepped, which sets
volume with repeated up/down steps instead.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.StringVar(&o.host, "host", "", "Receiver host name or IP")
	f.IntVar(&o.port, "port", pioneer.DefaultPort, "Receiver telnet port")
	f.DurationVar(&o.timeout, "timeout", 5*time.Second, "Connection timeout")
	f.StringVar(&o.name, "name", pioneer.DefaultName, "Display name")
	f.BoolVar(&o.stepped, "stepped", false, "Emulate absolute volume with up/down steps")
	f.StringVar(&o.transport, "transport", pioneer.TransportTCP, "Transport: tcp or serial")
	f.StringVar(&o.serialPort, "serial-port", "", "Serial device (serial transport)")
	f.IntVar(&o.baud, "baud", pioneer.DefaultBaudRate, "Baud rate (serial transport)")
	f.StringToStringVar(&o.sources, "sources", nil, "Known inputs as NAME=CODE pairs; skips discovery")
	f.StringVar(&o.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	root.AddCommand(
		newStatusCmd(o),
		newPowerCmd(o),
		newVolumeCmd(o),
		newMuteCmd(o),
		newSourceCmd(o),
		newShellCmd(o),
		newScanCmd(),
		newTokenCmd(),
		newHashKeyCmd(),
	)
	return root
}

// deviceConfig builds the device configuration from the flags.
func (o *options) deviceConfig() pioneer.Config {
	return pioneer.Config{
		Name:          o.name,
		Host:          o.host,
		Port:          o.port,
		Timeout:       o.timeout,
		Sources:       o.sources,
		FakeVolumeSet: o.stepped,
		Transport:     o.transport,
		SerialPort:    o.serialPort,
		BaudRate:      o.baud,
	}
}

// openDevice connects and runs the first poll. Logs go to the command's
// error stream as text.
func (o *options) openDevice(ctx context.Context, cmd *cobra.Command) (*pioneer.Device, error) {
	log := logging.NewWithWriter(cmd.ErrOrStderr(), config.LoggingConfig{
		Level:  o.logLevel,
		Format: "text",
	}, version)

	opts := append([]pioneer.Option{pioneer.WithLogger(log)}, o.deviceOpts...)
	dev, err := pioneer.Setup(ctx, o.deviceConfig(), opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to receiver: %w", err)
	}
	return dev, nil
}

// deviceAction opens the receiver and runs one command line against it.
func (o *options) deviceAction(cmd *cobra.Command, args ...string) error {
	dev, err := o.openDevice(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	return runCommand(cmd.Context(), dev, cmd.OutOrStdout(), args)
}
