package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cybershakti/deepfake-go/internal/conf"
	"github.com/cybershakti/deepfake-go/internal/logger"
	metricspkg "github.com/cybershakti/deepfake-go/internal/observability/metrics"
)

// Endpoint serves /metrics on its own listener, separate from the REST API
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
}

// NewEndpoint returns an error when telemetry is disabled or has no listen address
func NewEndpoint(settings *conf.Settings, metrics *Metrics) (*Endpoint, error) {
	if !settings.Telemetry.Enabled {
		return nil, fmt.Errorf("telemetry not enabled in settings")
	}
	if settings.Telemetry.Listen == "" {
		return nil, fmt.Errorf("telemetry listen address not set")
	}
	return &Endpoint{
		listenAddress: settings.Telemetry.Listen,
		metrics:       metrics,
	}, nil
}

// Start runs the HTTP server until quitChan is closed
func (e *Endpoint) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)

	e.server = &http.Server{
		Addr:              e.listenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log := GetLogger()
	wg.Go(func() {
		log.Info("telemetry endpoint starting", logger.String("address", e.listenAddress))
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("telemetry HTTP server error", logger.Error(err))
		}
	})

	wg.Go(func() {
		<-quitChan
		ctx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
		defer cancel()
		if err := e.server.Shutdown(ctx); err != nil {
			log.Error("telemetry server shutdown error", logger.Error(err))
		}
	})
}
