package retrain

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cybershakti/deepfake-go/cmd/cliutil"
	"github.com/cybershakti/deepfake-go/internal/conf"
	"github.com/cybershakti/deepfake-go/internal/detector"
)

// Command creates the retrain command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "retrain",
		Short: "Retrain the model on every stored sample",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cliutil.WithEngine(cmd.Context(), settings, func(ctx context.Context, engine *detector.Engine) error {
				res, err := engine.ManualRetrain(ctx)
				if err != nil {
					return err
				}
				return cliutil.PrintJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}
