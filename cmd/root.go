// Package cmd implements the netcap command line.
package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"firestige.xyz/netcap/internal/app"
	"firestige.xyz/netcap/internal/config"
)

var configFile string

// rootCmd captures packets when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "netcap",
	Short: "netcap - packet capture with a compiled field extraction language",
	Long: `netcap captures packets from a live interface or a pcap file, turns each packet
into a record with a transformation (a preset or a compiled extraction expression)
and forwards the records to stdout, a file or Kafka.

While running, commands typed on stdin (or sent via the control socket or Kafka)
change the capture filter, inject packets and swap the transformation. Type "help"
for the command list.

Examples:
  netcap -i eth0 -D udp-ports -f "udp"
  netcap -r trace.pcap -D @fields.yaml -w out.arff -A
  netcap -i eth0 -D ipv4-5tuple -a 1000 -S 1000`,
	Version:       "0.1.0",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCapture(cmd.Context(), configFile, cmd.Flags(),
			cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

// Execute adds all child commands to the root command and runs it.
// This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (YAML)")
	addCaptureFlags(rootCmd.Flags())

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(offsetsCmd)
	rootCmd.AddCommand(ctlCmd)
}

// addCaptureFlags declares the capture options. Defaults mirror the
// configuration defaults; a flag only overrides the config file and
// environment when it is set explicitly.
func addCaptureFlags(fs *pflag.FlagSet) {
	fs.IntP("self-adaptation", "a", 0, "self-adaptation interval in milliseconds, <= 0 disables")
	fs.Float64("sa-threshold", 0.1, "drop ratio above which the extraction is reduced")
	fs.Int("sa-interpolation", 4, "number of reduction levels")
	fs.Int("sa-inactivity", 3, "quiet intervals before a level is restored")
	fs.Bool("sa-prefer-scale-down", true, "reduce on a drop ratio exactly at the threshold")
	fs.String("sa-max-processing-time", "", "mean processing time per record that also counts as overload, e.g. 50us")

	fs.StringP("interface", "i", "lo", "capture interface")
	fs.StringP("read-file", "r", "", "read packets from a pcap file instead of an interface")
	fs.StringP("filter", "f", "", "initial BPF filter")
	fs.IntP("snap-len", "s", 65535, "bytes captured per packet")
	fs.IntP("buffer-size", "b", 16*1024*1024, "capture buffer size in bytes")
	fs.String("capture-type", "pcap", "capture backend: pcap | afpacket")

	fs.BoolP("raw", "R", false, "forward raw packet bytes without transformation")
	fs.StringP("transformation", "t", "", "preset transformation: raw | hex | length | layers")
	fs.StringP("dsl", "D", "", "extraction expression: a named expression, @file or a literal document")
	fs.BoolP("dynamic-transformation", "T", false, "allow replacing the transformation at runtime")
	fs.IntP("bulk-size", "B", 1, "packets per batch, > 1 enables bulk processing")
	fs.Int("workers", 1, "processing workers")
	fs.Int("queue-size", 65536, "intake queue capacity")
	fs.String("overflow", "drop", "full queue policy: drop | block")

	fs.StringP("forwarder", "F", "stdout", "record sink: stdout | file | kafka | count")
	fs.StringP("write-to-file", "w", "", "write records to a file")
	fs.BoolP("arff-header", "A", false, "prepend an ARFF header to the output file")

	fs.IntP("duration", "d", 0, "capture duration in seconds, 0 runs until quit")
	fs.IntP("stats", "S", 0, "stats print interval in milliseconds, <= 0 disables")
	fs.String("metrics-listen", "", "prometheus metrics listen address, e.g. :9090")
	fs.String("control-socket", "", "unix socket accepting commands")
	fs.String("pid-file", "", "write the process ID to this file")
	fs.Bool("no-repl", false, "do not read commands from stdin")
	fs.Bool("debug", false, "log per-packet failures with stack traces")
	fs.String("log-level", "info", "log level: trace | debug | info | warn | error")
}

// runCapture loads the configuration and runs netcap until it stops.
func runCapture(ctx context.Context, path string, flags *pflag.FlagSet, stdin io.Reader, stdout, stderr io.Writer, opts ...app.Option) error {
	cfg, err := config.Load(path, flags)
	if err != nil {
		return err
	}
	if noREPL, _ := flags.GetBool("no-repl"); noREPL {
		cfg.REPL = false
	}

	a, err := app.New(cfg, append([]app.Option{app.WithIO(stdin, stdout, stderr)}, opts...)...)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
