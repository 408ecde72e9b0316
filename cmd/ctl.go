package cmd

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/netcap/internal/command"
)

var ctlCmd = &cobra.Command{
	Use:   "ctl [command...]",
	Short: "Send commands to a running netcap",
	Long: `Send commands to a netcap started with --control-socket and print the replies.

The arguments form one command line. Without arguments, command lines are read
from stdin.

Examples:
  netcap ctl --socket /run/netcap.sock af udp port 53
  netcap ctl --socket /run/netcap.sock gf
  printf 'raf\naf tcp\n' | netcap ctl --socket /run/netcap.sock`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &socketClient{path: ctlSocket, timeout: ctlTimeout}
		return runCtl(cmd.Context(), client, args, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

var (
	ctlSocket  string
	ctlTimeout time.Duration
)

func init() {
	ctlCmd.Flags().StringVar(&ctlSocket, "socket", "/var/run/netcap.sock",
		"control socket path")
	ctlCmd.Flags().DurationVar(&ctlTimeout, "timeout", 10*time.Second,
		"connect and reply timeout")
}

// controlClient delivers command lines to a running instance.
type controlClient interface {
	Send(ctx context.Context, lines []string, out io.Writer) error
}

type socketClient struct {
	path    string
	timeout time.Duration
}

func (c *socketClient) Send(ctx context.Context, lines []string, out io.Writer) error {
	return command.Send(ctx, c.path, lines, out, c.timeout)
}

func runCtl(ctx context.Context, client controlClient, args []string, in io.Reader, out io.Writer) error {
	var lines []string
	if len(args) > 0 {
		lines = []string{strings.Join(args, " ")}
	} else {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return err
		}
	}
	if len(lines) == 0 {
		return nil
	}
	return client.Send(ctx, lines, out)
}
