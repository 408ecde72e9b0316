package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/netcap/internal/dsl"
)

var validateCmd = &cobra.Command{
	Use:   "validate <dsl>",
	Short: "Compile an extraction expression and print its fields",
	Long: `Compile an extraction expression without capturing anything.

The argument is a named expression, @path to a YAML/JSON document, or a literal
document. The fields are printed in declaration order.

Examples:
  netcap validate udp-ports
  netcap validate @fields.yaml
  netcap validate '{fields: [{name: ttl, type: uint8, offset: ip-ttl}]}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(args[0], validateSnapLen, cmd.OutOrStdout())
	},
}

var validateSnapLen int

func init() {
	validateCmd.Flags().IntVarP(&validateSnapLen, "snap-len", "s", 65535,
		"snap length the expression is checked against")
}

func runValidate(src string, snapLen int, out io.Writer) error {
	expr, err := dsl.Resolve(src)
	if err != nil {
		return err
	}
	prog, err := dsl.Compile(expr, dsl.WithSnapLen(snapLen))
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "VALID: %d field(s), output %s\n", len(expr.Fields), prog.Output())
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tLOCATION\tPRIORITY")
	for _, r := range expr.Fields {
		loc := string(r.Offset)
		if r.Expr != "" {
			loc = r.Expr
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", r.Name, r.Type, loc, r.Priority)
	}
	return tw.Flush()
}
