// --- File: internal/storage/gormstore/history.go ---
// Package gormstore stores delivery history in MySQL through GORM.
package gormstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

var _ fanout.Recorder = (*HistoryStore)(nil)

// PushHistory is the push_histories row.
type PushHistory struct {
	ID                  string    `gorm:"column:id;primaryKey;type:varchar(36)"`
	OwnerID             string    `gorm:"column:owner_id;type:varchar(128);NOT NULL;index:idx_owner_created,priority:1"`
	Title               string    `gorm:"column:title;type:varchar(255);NOT NULL"`
	Body                string    `gorm:"column:body;type:text;NOT NULL"`
	Target              string    `gorm:"column:target;type:varchar(16);NOT NULL;DEFAULT:'all'"`
	IOSTokensCount      int       `gorm:"column:ios_tokens_count;NOT NULL;DEFAULT:0"`
	IOSSuccessCount     int       `gorm:"column:ios_success_count;NOT NULL;DEFAULT:0"`
	IOSFailureCount     int       `gorm:"column:ios_failure_count;NOT NULL;DEFAULT:0"`
	AndroidTokensCount  int       `gorm:"column:android_tokens_count;NOT NULL;DEFAULT:0"`
	AndroidSuccessCount int       `gorm:"column:android_success_count;NOT NULL;DEFAULT:0"`
	AndroidFailureCount int       `gorm:"column:android_failure_count;NOT NULL;DEFAULT:0"`
	TotalTokensCount    int       `gorm:"column:total_tokens_count;NOT NULL;DEFAULT:0"`
	TotalSuccessCount   int       `gorm:"column:total_success_count;NOT NULL;DEFAULT:0"`
	TotalFailureCount   int       `gorm:"column:total_failure_count;NOT NULL;DEFAULT:0"`
	SuccessRate         float64   `gorm:"column:success_rate;type:decimal(5,2);NOT NULL;DEFAULT:0"`
	Status              string    `gorm:"column:status;type:ENUM('success','partial','failed');NOT NULL"`
	ErrorMessage        string    `gorm:"column:error_message;type:text"`
	CreatedAt           time.Time `gorm:"column:created_at;NOT NULL;index:idx_owner_created,priority:2"`
}

// TableName keeps the historical table name.
func (PushHistory) TableName() string {
	return "push_histories"
}

func fromRecord(r fanout.Record) PushHistory {
	return PushHistory{
		ID:                  r.ID,
		OwnerID:             r.OwnerID,
		Title:               r.Title,
		Body:                r.Body,
		Target:              string(r.Target),
		IOSTokensCount:      r.IOSTokensCount,
		IOSSuccessCount:     r.IOSSuccessCount,
		IOSFailureCount:     r.IOSFailureCount,
		AndroidTokensCount:  r.AndroidTokensCount,
		AndroidSuccessCount: r.AndroidSuccessCount,
		AndroidFailureCount: r.AndroidFailureCount,
		TotalTokensCount:    r.TotalTokensCount,
		TotalSuccessCount:   r.TotalSuccessCount,
		TotalFailureCount:   r.TotalFailureCount,
		SuccessRate:         r.SuccessRate,
		Status:              string(r.Status),
		ErrorMessage:        r.ErrorMessage,
		CreatedAt:           r.CreatedAt,
	}
}

func (h PushHistory) toRecord() fanout.Record {
	return fanout.Record{
		ID:                  h.ID,
		OwnerID:             h.OwnerID,
		Title:               h.Title,
		Body:                h.Body,
		Target:              fanout.Target(h.Target),
		IOSTokensCount:      h.IOSTokensCount,
		IOSSuccessCount:     h.IOSSuccessCount,
		IOSFailureCount:     h.IOSFailureCount,
		AndroidTokensCount:  h.AndroidTokensCount,
		AndroidSuccessCount: h.AndroidSuccessCount,
		AndroidFailureCount: h.AndroidFailureCount,
		TotalTokensCount:    h.TotalTokensCount,
		TotalSuccessCount:   h.TotalSuccessCount,
		TotalFailureCount:   h.TotalFailureCount,
		SuccessRate:         h.SuccessRate,
		Status:              fanout.Status(h.Status),
		ErrorMessage:        h.ErrorMessage,
		CreatedAt:           h.CreatedAt.UTC(),
	}
}

type HistoryStore struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to MySQL with dsn.
func Open(dsn string) (*HistoryStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql history: %w", err)
	}
	return NewHistoryStore(db), nil
}

func NewHistoryStore(db *gorm.DB) *HistoryStore {
	return &HistoryStore{db: db, now: time.Now}
}

// Migrate creates or updates the push_histories table.
func (s *HistoryStore) Migrate() error {
	return s.db.AutoMigrate(&PushHistory{})
}

func (s *HistoryStore) Record(ctx context.Context, result *fanout.Result, ownerID, title, body string, target fanout.Target) (string, error) {
	row := fromRecord(fanout.NewRecord(uuid.NewString(), s.now(), result, ownerID, title, body, target))
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("failed to insert history: %w", err)
	}
	return row.ID, nil
}

func (s *HistoryStore) ListRecent(ctx context.Context, ownerID string, limit int) ([]fanout.Record, error) {
	if limit <= 0 {
		return []fanout.Record{}, nil
	}
	var rows []PushHistory
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	records := make([]fanout.Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.toRecord())
	}
	return records, nil
}

func (s *HistoryStore) CountSince(ctx context.Context, ownerID string, since time.Time) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&PushHistory{}).
		Where("owner_id = ? AND created_at >= ?", ownerID, since.UTC()).
		Count(&n).Error
	return int(n), err
}
