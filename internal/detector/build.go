package detector

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/cybershakti/deepfake-go/internal/archive"
	"github.com/cybershakti/deepfake-go/internal/classifier"
	"github.com/cybershakti/deepfake-go/internal/conf"
	"github.com/cybershakti/deepfake-go/internal/datastore"
	"github.com/cybershakti/deepfake-go/internal/events"
	"github.com/cybershakti/deepfake-go/internal/features"
	"github.com/cybershakti/deepfake-go/internal/jobqueue"
	"github.com/cybershakti/deepfake-go/internal/logger"
	"github.com/cybershakti/deepfake-go/internal/observability"
	"github.com/cybershakti/deepfake-go/internal/retrain"
	"github.com/cybershakti/deepfake-go/internal/samplestore"
)

const (
	// jobs must outlive the training timeout they run under
	jobTimeoutMargin = time.Minute
	busShutdownWait  = 5 * time.Second
)

// Build wires a complete engine from settings: sample repository, snapshot restore, archive,
// job queue and event publishing. metrics may be nil. The job queue runs until Close.
func Build(ctx context.Context, settings *conf.Settings, metrics *observability.Metrics) (engine *Engine, err error) {
	log := GetLogger()

	var cleanup []func()
	defer func() {
		if err != nil {
			for _, fn := range slices.Backward(cleanup) {
				fn()
			}
		}
	}()

	repo, err := openRepository(settings)
	if err != nil {
		return nil, err
	}
	cleanup = append(cleanup, func() { _ = repo.Close() })

	store := samplestore.New(repo)
	if err := store.Load(ctx); err != nil {
		return nil, fmt.Errorf("load samples: %w", err)
	}

	arch, err := openArchive(ctx, settings)
	if err != nil {
		return nil, err
	}

	initial := loadInitialSnapshot(ctx, settings.SnapshotPath(), arch)
	store.ReserveThrough(initial.TrainedThroughID)
	holder := classifier.NewHolder(initial)

	queue := jobqueue.New(jobqueue.Options{
		Workers:    settings.Detector.Workers,
		JobTimeout: settings.Detector.TrainingTimeout + jobTimeoutMargin,
	})
	queue.Start(context.WithoutCancel(ctx))
	cleanup = append(cleanup, func() { _ = queue.Stop(busShutdownWait) })

	var closers []func(context.Context) error
	var publisher retrain.EventPublisher
	if settings.MQTT.Enabled {
		bus, pub := openEvents(ctx, settings)
		if bus != nil {
			publisher = bus
			closers = append(closers, func(context.Context) error {
				err := bus.Shutdown(busShutdownWait)
				pub.Disconnect()
				return err
			})
		}
	}

	var retrainMetrics retrain.Recorder
	var detectorMetrics Recorder
	opts := features.Options{
		FfmpegPath:  resolveFfmpeg(settings.Detector.FfmpegPath),
		VideoFrames: settings.Detector.VideoFrames,
		MaxPixels:   settings.Detector.MaxImagePixels,
	}
	if settings.Detector.FeatureCache.Enabled {
		opts.CacheTTL = settings.Detector.FeatureCache.TTL
		opts.CacheSize = settings.Detector.FeatureCache.Size
	}
	if metrics != nil {
		retrainMetrics = metrics.Retrain
		detectorMetrics = metrics.Detector
		opts.CacheObserver = metrics.Detector.RecordCacheLookup
	}

	training := settings.Training
	controller := retrain.New(&retrain.Options{
		Policy: retrain.Policy{
			MinSamples:      settings.Detector.MinSamples,
			RetrainEvery:    settings.Detector.RetrainEvery,
			TrainingTimeout: settings.Detector.TrainingTimeout,
		},
		Trainer: classifier.NewLogisticTrainer(training.Epochs, training.LearningRate,
			training.L2, training.Tolerance, settings.Detector.MinSamples),
		Holder:       holder,
		Samples:      store,
		SnapshotPath: settings.SnapshotPath(),
		Archive:      arch,
		Scheduler:    queue,
		Events:       publisher,
		Metrics:      retrainMetrics,
	})

	engine = New(&Options{
		Extractor:  features.New(opts),
		Store:      store,
		Holder:     holder,
		Controller: controller,
		Scheduler:  queue,
		Metrics:    detectorMetrics,
		closers:    closers,
	})

	active := holder.Load()
	log.Info("detection engine ready",
		logger.String("backend", settings.Storage.Backend),
		logger.Int("samples", store.Count()),
		logger.Uint64("model_version", active.Version),
		logger.Bool("model_loaded", active.Trained()),
		logger.Bool("video_enabled", opts.FfmpegPath != ""))
	return engine, nil
}

func openRepository(settings *conf.Settings) (samplestore.Repository, error) {
	switch settings.Storage.Backend {
	case conf.BackendSQLite, conf.BackendMySQL:
		db, err := datastore.Open(&settings.Storage)
		if err != nil {
			return nil, err
		}
		return datastore.NewSampleRepository(db), nil
	default:
		return samplestore.NewFileRepository(settings.SamplesLogPath())
	}
}

func openArchive(ctx context.Context, settings *conf.Settings) (*archive.Archive, error) {
	var remote archive.Remote
	if settings.Archive.Minio.Enabled {
		mr, err := archive.NewMinioRemote(&settings.Archive.Minio)
		if err != nil {
			return nil, err
		}
		if err := mr.EnsureBucket(ctx); err != nil {
			// local archive keeps working, uploads fail until the bucket is reachable
			GetLogger().Warn("snapshot bucket unavailable", logger.Error(err))
		}
		remote = mr
	}
	return archive.New(settings.ArchiveDir(), settings.Archive.Retain, remote)
}

// openEvents connects the MQTT publisher. A broker that cannot be reached disables events
// rather than failing startup.
func openEvents(ctx context.Context, settings *conf.Settings) (*events.Bus, *events.MQTTPublisher) {
	pub := events.NewMQTTPublisher(events.MQTTConfigFromSettings(&settings.MQTT))
	if err := pub.Connect(ctx); err != nil {
		GetLogger().Warn("model events disabled, MQTT connection failed",
			logger.String("broker", settings.MQTT.Broker),
			logger.Error(err))
		return nil, nil
	}
	bus := events.NewBus(events.DefaultConfig())
	if err := bus.RegisterConsumer(pub); err != nil {
		pub.Disconnect()
		return nil, nil
	}
	return bus, pub
}

// loadInitialSnapshot restores the last installed model. A missing or unreadable snapshot
// file falls back to the newest archived snapshot, then to the baseline.
func loadInitialSnapshot(ctx context.Context, path string, arch *archive.Archive) *classifier.Snapshot {
	log := GetLogger()

	snap, err := classifier.LoadSnapshotFile(path)
	if err == nil {
		return snap
	}
	if !os.IsNotExist(err) {
		log.Warn("snapshot file unreadable, trying archive", logger.String("path", path), logger.Error(err))
	}

	versions, err := arch.Versions()
	if err != nil || len(versions) == 0 {
		return classifier.Baseline()
	}
	latest := slices.Max(versions)
	snap, err = arch.Load(ctx, latest)
	if err != nil {
		log.Warn("archived snapshot unreadable, starting from baseline",
			logger.Uint64("version", latest),
			logger.Error(err))
		return classifier.Baseline()
	}
	log.Info("restored model from archive", logger.Uint64("version", latest))
	return snap
}

func resolveFfmpeg(configured string) string {
	path, err := conf.ValidateToolPath(configured, conf.GetFfmpegBinaryName())
	if err != nil {
		GetLogger().Info("ffmpeg not found, video analysis disabled", logger.Error(err))
		return ""
	}
	return path
}
