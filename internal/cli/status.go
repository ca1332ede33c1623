package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pegwatch/internal/app"
)

var (
	statusLimit int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display the latest peg status board",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statusLimit < 0 {
			return fmt.Errorf("--limit must not be negative")
		}

		opts := app.StatusOptions{
			Limit: statusLimit,
		}

		return getApp().Status(cmd.Context(), opts)
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 0, "Maximum assets to display (0 shows all)")
}
