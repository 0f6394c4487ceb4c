// Package datastore provides SQL-backed sample persistence through GORM
package datastore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cybershakti/deepfake-go/internal/conf"
	"github.com/cybershakti/deepfake-go/internal/errors"
	"github.com/cybershakti/deepfake-go/internal/logger"
	"github.com/cybershakti/deepfake-go/internal/samplestore"
)

const (
	slowQueryThreshold = 200 * time.Millisecond
	rewriteBatchSize   = 500
)

// Open connects to the database selected by settings.Backend and migrates the schema
func Open(settings *conf.StorageSettings) (*gorm.DB, error) {
	var dialector gorm.Dialector
	var target string

	switch settings.Backend {
	case conf.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(settings.SQLite.Path), 0o755); err != nil {
			return nil, errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				Context("operation", "create_sqlite_dir").
				Build()
		}
		dialector = sqlite.Open(settings.SQLite.Path)
		target = settings.SQLite.Path
	case conf.BackendMySQL:
		m := settings.MySQL
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			m.Username, m.Password, m.Host, m.Port, m.Database)
		dialector = mysql.Open(dsn)
		target = fmt.Sprintf("%s:%s/%s", m.Host, m.Port, m.Database)
	default:
		return nil, errors.Newf("unsupported database backend %q", settings.Backend).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}

	gormLogger := logger.NewGormLoggerAdapter(GetLogger(), slowQueryThreshold)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("backend", settings.Backend).
			Build()
	}

	if err := db.AutoMigrate(&SampleRecord{}, &SampleMeta{}); err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "auto_migrate").
			Build()
	}

	GetLogger().Info("database opened",
		logger.String("backend", settings.Backend),
		logger.String("target", target))
	return db, nil
}

// SampleRepository stores samples in the samples table
type SampleRepository struct {
	db *gorm.DB
}

// NewSampleRepository wraps an open database
func NewSampleRepository(db *gorm.DB) *SampleRepository {
	return &SampleRepository{db: db}
}

func toRecord(s *samplestore.Sample) (SampleRecord, error) {
	features, err := json.Marshal(s.Features)
	if err != nil {
		return SampleRecord{}, err
	}
	return SampleRecord{
		ID:         s.ID,
		Features:   string(features),
		Label:      s.Label,
		Source:     s.Source,
		InsertedAt: s.InsertedAt.UTC(),
	}, nil
}

func fromRecord(r *SampleRecord) (samplestore.Sample, error) {
	var features []float64
	if err := json.Unmarshal([]byte(r.Features), &features); err != nil {
		return samplestore.Sample{}, fmt.Errorf("sample %d: %w", r.ID, err)
	}
	return samplestore.Sample{
		ID:         r.ID,
		Features:   features,
		Label:      r.Label,
		Source:     r.Source,
		InsertedAt: r.InsertedAt.UTC(),
	}, nil
}

// Append inserts one sample
func (r *SampleRepository) Append(ctx context.Context, s samplestore.Sample) error {
	rec, err := toRecord(&s)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("sample_id", s.ID).
			Build()
	}
	return nil
}

// LoadAll returns every sample ordered by ID and the recorded high-water ID
func (r *SampleRepository) LoadAll(ctx context.Context) ([]samplestore.Sample, uint64, error) {
	var records []SampleRecord
	if err := r.db.WithContext(ctx).Order("id").Find(&records).Error; err != nil {
		return nil, 0, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "load_samples").
			Build()
	}

	samples := make([]samplestore.Sample, 0, len(records))
	for i := range records {
		s, err := fromRecord(&records[i])
		if err != nil {
			return nil, 0, err
		}
		samples = append(samples, s)
	}

	// Find instead of First: a missing row is not an error worth logging
	var meta []SampleMeta
	if err := r.db.WithContext(ctx).Where(&SampleMeta{Key: metaLastID}).Limit(1).Find(&meta).Error; err != nil {
		return nil, 0, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "load_sample_meta").
			Build()
	}
	var lastID uint64
	if len(meta) > 0 {
		lastID = meta[0].Value
	}
	return samples, lastID, nil
}

// Rewrite replaces the table contents and the high-water ID in one transaction
func (r *SampleRepository) Rewrite(ctx context.Context, samples []samplestore.Sample, lastID uint64) error {
	records := make([]SampleRecord, 0, len(samples))
	for i := range samples {
		rec, err := toRecord(&samples[i])
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&SampleRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&SampleMeta{Key: metaLastID, Value: lastID}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.CreateInBatches(records, rewriteBatchSize).Error
	})
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "rewrite_samples").
			Build()
	}
	return nil
}

// Close closes the underlying connection pool
func (r *SampleRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ samplestore.Repository = (*SampleRepository)(nil)
