package serve

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cybershakti/deepfake-go/internal/api"
	"github.com/cybershakti/deepfake-go/internal/conf"
	"github.com/cybershakti/deepfake-go/internal/detector"
	"github.com/cybershakti/deepfake-go/internal/logger"
	"github.com/cybershakti/deepfake-go/internal/observability"
)

// engineCloseTimeout bounds the final sample flush and in-flight retrain on shutdown
const engineCloseTimeout = 30 * time.Second

// Command creates the serve command, which runs the HTTP API until interrupted.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the detection HTTP API",
		Long:  "Serve /api/deepfake until SIGINT or SIGTERM, then finish in-flight requests and flush samples.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings)
		},
	}

	if err := setupFlags(cmd); err != nil {
		panic(err)
	}
	return cmd
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("listen", "", "Listen address of the HTTP API, e.g. :5001")
	cmd.Flags().Bool("telemetry", false, "Serve Prometheus metrics on a separate listener")
	cmd.Flags().String("telemetry-listen", "", "Listen address of the metrics endpoint")

	bindings := map[string]string{
		"webserver.listen":  "listen",
		"telemetry.enabled": "telemetry",
		"telemetry.listen":  "telemetry-listen",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flags: %w", err)
		}
	}
	return nil
}

func run(ctx context.Context, settings *conf.Settings) (err error) {
	log := logger.Global().Module("main")

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	engine, err := detector.Build(ctx, settings, metrics)
	if err != nil {
		return fmt.Errorf("failed to start detection engine: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), engineCloseTimeout)
		defer cancel()
		if cerr := engine.Close(closeCtx); cerr != nil {
			log.Error("engine shutdown incomplete", logger.Error(cerr))
			if err == nil {
				err = cerr
			}
		}
	}()

	var wg sync.WaitGroup
	quit := make(chan struct{})
	defer func() {
		close(quit)
		wg.Wait()
	}()

	if settings.Telemetry.Enabled && settings.Telemetry.Listen != "" {
		endpoint, err := observability.NewEndpoint(settings, metrics)
		if err != nil {
			return err
		}
		endpoint.Start(&wg, quit)
	}

	if !settings.WebServer.Enabled {
		log.Info("web server disabled, waiting for shutdown signal")
		<-ctx.Done()
		return nil
	}

	server, err := api.New(settings, engine, api.WithMetrics(metrics))
	if err != nil {
		return err
	}
	return server.Run(ctx)
}
