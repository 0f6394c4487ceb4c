package datastore

import "time"

// SampleRecord is the samples table row. Features are stored as a JSON array so float64
// values round-trip exactly on both SQLite and MySQL.
type SampleRecord struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement:false"`
	Features   string    `gorm:"type:text;not null"`
	Label      bool      `gorm:"index"`
	Source     string    `gorm:"size:128;index"`
	InsertedAt time.Time `gorm:"index"`
}

// TableName overrides the default pluralised name
func (SampleRecord) TableName() string {
	return "samples"
}

// metaLastID is the sample_meta key holding the highest sample ID ever assigned
const metaLastID = "last_id"

// SampleMeta holds counters that must outlive the rows they describe
type SampleMeta struct {
	Key   string `gorm:"primaryKey;size:64"`
	Value uint64 `gorm:"not null"`
}

// TableName overrides the default pluralised name
func (SampleMeta) TableName() string {
	return "sample_meta"
}
