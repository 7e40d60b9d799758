package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:     appName,
		Short:   "Risk admission and capital allocation service",
		Version: version,
		Long: `riskgate is the pre-trade risk control plane: every order is validated
against portfolio limits, kill switches, and drawdown state before it
reaches an exchange. It also serves regime-aware capital allocation and
volatility-targeted sizing.`,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", appName, version)
		},
	})

	return root.ExecuteContext(ctx)
}
