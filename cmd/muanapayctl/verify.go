package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/smallbiznis/muanapay/pkg/verifyclient"
	"github.com/spf13/cobra"
)

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a payment and optionally keep listening until it arrives",
		RunE:  runVerify,
	}

	cmd.Flags().String("user", "", "Requesting user id (required)")
	cmd.Flags().String("plan", "", "Plan to activate on success")
	cmd.Flags().String("phone", "", "Payer phone number")
	cmd.Flags().String("reference", "", "Operator transaction reference")
	cmd.Flags().Int64("amount", 0, "Expected amount in minor units")
	cmd.Flags().Bool("listen", false, "Keep polling until the payment arrives or the wait expires")
	cmd.Flags().Duration("poll", 0, "Poll interval, overrides the server hint")
	cmd.Flags().Duration("max-wait", 0, "Listening bound, overrides the server hint")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runVerify(cmd *cobra.Command, _ []string) error {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	user, _ := cmd.Flags().GetString("user")
	plan, _ := cmd.Flags().GetString("plan")
	phoneNumber, _ := cmd.Flags().GetString("phone")
	reference, _ := cmd.Flags().GetString("reference")
	amount, _ := cmd.Flags().GetInt64("amount")
	listen, _ := cmd.Flags().GetBool("listen")
	poll, _ := cmd.Flags().GetDuration("poll")
	maxWait, _ := cmd.Flags().GetDuration("max-wait")

	if phoneNumber == "" && reference == "" {
		return errors.New("one of --phone or --reference is required")
	}

	req := verifyclient.Request{
		UserID:        user,
		PlanID:        plan,
		SenderNumber:  phoneNumber,
		TransactionID: reference,
	}
	if amount > 0 {
		req.AmountCents = &amount
	}

	client := verifyclient.NewClient(server, verifyclient.WithBearerToken(token))
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if !listen {
		resp, err := client.Verify(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(resp)
	}

	session := verifyclient.NewSession(client, verifyclient.Options{
		PollInterval: poll,
		MaxWait:      maxWait,
		Observer: func(s verifyclient.Snapshot) {
			fmt.Fprintf(os.Stderr, "%s  %-9s  attempts=%d remaining=%s %s\n",
				time.Now().Format(time.TimeOnly), s.State, s.Attempts, s.Remaining.Round(time.Second), s.Message)
		},
	})
	defer session.Close()

	if err := session.Start(req); err != nil {
		return err
	}
	snap, err := session.Wait(ctx)
	if err != nil {
		session.Reset()
		return err
	}

	if snap.Response != nil {
		if err := printJSON(snap.Response); err != nil {
			return err
		}
	}
	switch snap.State {
	case verifyclient.StateSuccess:
		return nil
	case verifyclient.StateTimeout:
		return errors.New("payment not received before the wait expired")
	default:
		if snap.Err != nil {
			return fmt.Errorf("verification failed: %w", snap.Err)
		}
		return fmt.Errorf("verification ended in state %s", snap.State)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
