package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
)

var (
	simulateSymbol string
	simulatePrice  float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Inject a price for one asset and drive the alert pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		symbol := strings.ToUpper(strings.TrimSpace(simulateSymbol))
		if symbol == "" {
			return errors.New("--symbol must be provided")
		}
		if simulatePrice <= 0 {
			return errors.New("--price must be greater than 0")
		}
		return getApp().SimulateAlert(cmd.Context(), symbol, simulatePrice)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "Asset symbol to simulate (e.g. USDT)")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "Injected USD price (e.g. 0.985)")
}
