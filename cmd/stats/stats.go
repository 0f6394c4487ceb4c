package stats

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cybershakti/deepfake-go/cmd/cliutil"
	"github.com/cybershakti/deepfake-go/internal/conf"
	"github.com/cybershakti/deepfake-go/internal/detector"
)

// Command creates the stats command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show sample counts and the active model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cliutil.WithEngine(cmd.Context(), settings, func(_ context.Context, engine *detector.Engine) error {
				return cliutil.PrintJSON(cmd.OutOrStdout(), engine.Stats())
			})
		},
	}
}
