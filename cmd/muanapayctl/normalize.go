package main

import (
	"fmt"

	"github.com/smallbiznis/muanapay/internal/phone"
	"github.com/spf13/cobra"
)

func normalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize [phone]",
		Short: "Show the suffix and match key used to look up a phone number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			suffix := phone.Normalize(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "suffix:    %s\nmatch key: %s\nmatchable: %t\n",
				suffix, phone.MatchKey(suffix), phone.Matchable(suffix))
			return nil
		},
	}
}
