package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check SYMBOL",
	Short: "Fetch and classify one asset immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		symbol := strings.ToUpper(strings.TrimSpace(args[0]))
		if symbol == "" {
			return errors.New("symbol must not be empty")
		}
		return getApp().Check(cmd.Context(), symbol)
	},
}
