package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/netcap/internal/dsl"
)

var offsetsCmd = &cobra.Command{
	Use:   "offsets",
	Short: "List the offset symbols usable in extraction expressions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOffsets(cmd.OutOrStdout())
	},
}

func runOffsets(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OFFSET\tSYMBOL\tALIASES\tDESCRIPTION")
	for _, s := range dsl.OffsetSymbols() {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.Offset, s.Name, strings.Join(s.Aliases, ","), s.Desc)
	}
	return tw.Flush()
}
