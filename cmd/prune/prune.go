package prune

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cybershakti/deepfake-go/cmd/cliutil"
	"github.com/cybershakti/deepfake-go/internal/conf"
	"github.com/cybershakti/deepfake-go/internal/detector"
	"github.com/cybershakti/deepfake-go/internal/samplestore"
)

// Command creates the prune command, which drops old samples from the training set.
func Command(settings *conf.Settings) *cobra.Command {
	var opts samplestore.PruneOptions
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove old samples from the training set",
		Long: "Remove samples. The active model is unchanged until the next retrain.\n" +
			"When both flags are given a sample must satisfy both to be kept.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.KeepNewest <= 0 && opts.OlderThan <= 0 {
				return fmt.Errorf("at least one of --keep or --older-than is required")
			}
			return cliutil.WithEngine(cmd.Context(), settings, func(ctx context.Context, engine *detector.Engine) error {
				removed, err := engine.Prune(ctx, opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d samples, %d remain\n", removed, engine.Stats().SampleCount)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&opts.KeepNewest, "keep", 0, "Keep at most this many of the newest samples")
	cmd.Flags().DurationVar(&opts.OlderThan, "older-than", 0, "Remove samples added longer ago than this, e.g. 720h")
	return cmd
}
