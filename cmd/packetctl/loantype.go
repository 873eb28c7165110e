package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/packet-parser/internal/reconcile"
)

func newLoanTypeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "loantype <text>...",
		Short: "Show how free-text loan types normalize",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, raw := range args {
				lt := reconcile.NormalizeLoanType(raw)
				if lt == "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%q\t(unrecognized)\n", raw)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%q\t%s\n", strings.TrimSpace(raw), lt)
			}
			return nil
		},
	}
}
