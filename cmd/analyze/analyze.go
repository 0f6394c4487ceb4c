package analyze

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cybershakti/deepfake-go/cmd/cliutil"
	"github.com/cybershakti/deepfake-go/internal/conf"
	"github.com/cybershakti/deepfake-go/internal/detector"
)

// Command creates the analyze command for one-shot detection of a local file.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <file>",
		Short: "Classify an image or video file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			return cliutil.WithEngine(cmd.Context(), settings, func(ctx context.Context, engine *detector.Engine) error {
				result, err := engine.Detect(ctx, data)
				if err != nil {
					return err
				}
				return cliutil.PrintJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}
