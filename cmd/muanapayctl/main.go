package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "muanapayctl",
		Short:   "Operator tooling for the muanapay verification service",
		Version: Version,
	}

	rootCmd.PersistentFlags().String("server", envOr("MUANAPAY_URL", "http://localhost:8080"), "Base URL of the muanapay server")
	rootCmd.PersistentFlags().String("token", os.Getenv("MUANAPAY_INTERNAL_TOKEN"), "Internal API token")

	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(normalizeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
