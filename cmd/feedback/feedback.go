package feedback

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cybershakti/deepfake-go/cmd/cliutil"
	"github.com/cybershakti/deepfake-go/internal/conf"
	"github.com/cybershakti/deepfake-go/internal/detector"
	"github.com/cybershakti/deepfake-go/internal/errors"
	"github.com/cybershakti/deepfake-go/internal/retrain"
)

type options struct {
	deepfake bool
	source   string
	retrain  bool
}

// Command creates the feedback command, which stores a labeled sample.
func Command(settings *conf.Settings) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "feedback <file>",
		Short: "Add a labeled sample to the training set",
		Long: "Add a labeled sample. Pass --deepfake for manipulated media, omit it for authentic media.\n" +
			"With --retrain the model is retrained before the command exits.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			return cliutil.WithEngine(cmd.Context(), settings, func(ctx context.Context, engine *detector.Engine) error {
				return run(ctx, cmd, engine, data, opts)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.deepfake, "deepfake", false, "Label the sample as a deepfake")
	cmd.Flags().StringVar(&opts.source, "source", "", "Source identifier (default: content hash)")
	cmd.Flags().BoolVar(&opts.retrain, "retrain", false, "Retrain synchronously after adding the sample")
	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, engine *detector.Engine, data []byte, opts *options) error {
	res, err := engine.SubmitFeedback(ctx, detector.Feedback{
		Data:   data,
		Label:  opts.deepfake,
		Source: opts.source,
	})
	if err != nil {
		return err
	}
	if err := cliutil.PrintJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if !opts.retrain {
		return nil
	}

	model, err := engine.ManualRetrain(ctx)
	if errors.Is(err, retrain.ErrInsufficientData) {
		fmt.Fprintf(cmd.ErrOrStderr(), "not retrained: %v\n", err)
		return nil
	}
	if err != nil {
		return err
	}
	return cliutil.PrintJSON(cmd.OutOrStdout(), model)
}
