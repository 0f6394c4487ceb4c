package rollback

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cybershakti/deepfake-go/cmd/cliutil"
	"github.com/cybershakti/deepfake-go/internal/conf"
	"github.com/cybershakti/deepfake-go/internal/detector"
)

// Command creates the rollback command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <version>",
		Short: "Reinstall an archived model version",
		Long:  "Reinstall the parameters of an archived model. The restored model gets a new version number.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			return cliutil.WithEngine(cmd.Context(), settings, func(ctx context.Context, engine *detector.Engine) error {
				res, err := engine.Rollback(ctx, version)
				if err != nil {
					return err
				}
				return cliutil.PrintJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}
