// Package journal keeps an SQL copy of the events every committed
// transaction emits, indexed by lease, for the API and offline analysis.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nhblease/core/types"
)

var ErrDSNRequired = errors.New("journal: dsn must be configured")

// LeaseRecord is one lease opened through the daemon.
type LeaseRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Label     string    `gorm:"uniqueIndex;size:64"`
	Address   string    `gorm:"uniqueIndex;size:128"`
	Customer  string    `gorm:"index;size:128"`
	Currency  string    `gorm:"size:16"`
	CreatedAt time.Time
}

// EventRecord is one contract event. Lease is the emitting lease, empty for
// events of the shared contracts.
type EventRecord struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Lease      string `gorm:"index;size:128"`
	Type       string `gorm:"index;size:64"`
	Height     uint64 `gorm:"index"`
	Attributes string `gorm:"type:text"`
	CreatedAt  time.Time
}

// Event decodes the record back into the emitted event.
func (r EventRecord) Event() (types.Event, error) {
	e := types.Event{Type: r.Type, Attributes: map[string]string{}}
	if r.Attributes == "" {
		return e, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &e.Attributes); err != nil {
		return types.Event{}, fmt.Errorf("journal: decode event %d: %w", r.ID, err)
	}
	return e, nil
}

// AutoMigrate performs all schema migrations of the journal.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&LeaseRecord{}, &EventRecord{})
}

type Journal struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to dsn: postgres:// and postgresql:// DSNs use PostgreSQL,
// anything else is handed to SQLite.
func Open(dsn string) (*Journal, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrDSNRequired
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	return New(db)
}

// New migrates db and wraps it.
func New(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (j *Journal) RecordLease(ctx context.Context, rec LeaseRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = j.now().UTC()
	}
	if err := j.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("journal: record lease: %w", err)
	}
	return nil
}

// Leases lists the recorded leases, oldest first.
func (j *Journal) Leases(ctx context.Context) ([]LeaseRecord, error) {
	var out []LeaseRecord
	if err := j.db.WithContext(ctx).Order("created_at asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("journal: list leases: %w", err)
	}
	return out, nil
}

// Append stores the events of one committed transaction.
func (j *Journal) Append(ctx context.Context, height uint64, events []types.Event) error {
	if len(events) == 0 {
		return nil
	}
	now := j.now().UTC()
	records := make([]EventRecord, 0, len(events))
	for _, e := range events {
		lease, _ := e.Attribute("id")
		attrs, err := json.Marshal(e.Attributes)
		if err != nil {
			return fmt.Errorf("journal: encode %s: %w", e.Type, err)
		}
		records = append(records, EventRecord{
			Lease:      lease,
			Type:       e.Type,
			Height:     height,
			Attributes: string(attrs),
			CreatedAt:  now,
		})
	}
	if err := j.db.WithContext(ctx).Create(&records).Error; err != nil {
		return fmt.Errorf("journal: append events: %w", err)
	}
	return nil
}

// Events returns the most recent events of lease in emission order. A
// non-positive limit returns all of them.
func (j *Journal) Events(ctx context.Context, lease string, limit int) ([]EventRecord, error) {
	q := j.db.WithContext(ctx).Where("lease = ?", lease).Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []EventRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("journal: list events: %w", err)
	}
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

type parquetEvent struct {
	ID         int64  `parquet:"name=id, type=INT64"`
	Lease      string `parquet:"name=lease, type=BYTE_ARRAY, convertedtype=UTF8"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Height     int64  `parquet:"name=height, type=INT64"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt  string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportParquet writes every event to a snappy compressed parquet file and
// returns the number of rows written.
func (j *Journal) ExportParquet(ctx context.Context, path string) (int, error) {
	var records []EventRecord
	if err := j.db.WithContext(ctx).Order("id asc").Find(&records).Error; err != nil {
		return 0, fmt.Errorf("journal: load events: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("journal: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetEvent), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("journal: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range records {
		row := &parquetEvent{
			ID:         int64(r.ID),
			Lease:      r.Lease,
			Type:       r.Type,
			Height:     int64(r.Height),
			Attributes: r.Attributes,
			CreatedAt:  r.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return 0, fmt.Errorf("journal: write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return 0, fmt.Errorf("journal: finish parquet: %w", err)
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("journal: close parquet: %w", err)
	}
	return len(records), nil
}
