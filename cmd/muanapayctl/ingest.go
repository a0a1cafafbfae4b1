package main

import (
	"github.com/smallbiznis/muanapay/pkg/verifyclient"
	"github.com/spf13/cobra"
)

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Push a payment notification, standing in for the SMS pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			server, _ := cmd.Flags().GetString("server")
			token, _ := cmd.Flags().GetString("token")

			n := verifyclient.Notification{}
			n.Sender, _ = cmd.Flags().GetString("sender")
			n.Message, _ = cmd.Flags().GetString("message")
			n.CounterpartyPhone, _ = cmd.Flags().GetString("phone")
			n.TransactionReference, _ = cmd.Flags().GetString("reference")
			n.Amount, _ = cmd.Flags().GetInt64("amount")
			n.Currency, _ = cmd.Flags().GetString("currency")
			n.Status, _ = cmd.Flags().GetString("status")

			res, err := verifyclient.NewClient(server, verifyclient.WithBearerToken(token)).Ingest(cmd.Context(), n)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}

	cmd.Flags().String("sender", "OrangeMoney", "Originating short code")
	cmd.Flags().String("message", "", "Raw SMS body")
	cmd.Flags().String("phone", "", "Counterparty phone number")
	cmd.Flags().String("reference", "", "Operator transaction reference")
	cmd.Flags().Int64("amount", 0, "Amount in minor units")
	cmd.Flags().String("currency", "XOF", "ISO currency code")
	cmd.Flags().String("status", "pending", "Initial status (pending or unmatched)")

	return cmd
}
