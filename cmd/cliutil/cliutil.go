// Package cliutil holds helpers shared by the one-shot commands
package cliutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cybershakti/deepfake-go/internal/conf"
	"github.com/cybershakti/deepfake-go/internal/detector"
)

// closeTimeout bounds flushing samples and stopping jobs on exit
const closeTimeout = 30 * time.Second

// WithEngine builds an engine from settings, runs fn and closes the engine, flushing any
// pending samples.
func WithEngine(ctx context.Context, settings *conf.Settings, fn func(context.Context, *detector.Engine) error) (err error) {
	engine, err := detector.Build(ctx, settings, nil)
	if err != nil {
		return fmt.Errorf("failed to start detection engine: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if cerr := engine.Close(closeCtx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, engine)
}

// PrintJSON writes v as indented JSON
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
