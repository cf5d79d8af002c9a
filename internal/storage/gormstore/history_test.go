// --- File: internal/storage/gormstore/history_test.go ---
package gormstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tinywideclouds/go-fanout-service/internal/storage/gormstore"
	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

func newMockStore(t *testing.T) (*gormstore.HistoryStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{Conn: db, SkipInitializeWithVersion: true}), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return gormstore.NewHistoryStore(gdb), mock
}

func partial() *fanout.Result {
	return fanout.NewResult(map[fanout.Platform][]fanout.Outcome{
		fanout.PlatformIOS: {{Token: "tokA", Platform: fanout.PlatformIOS, Success: true}},
		fanout.PlatformAndroid: {
			{Token: "tokB", Platform: fanout.PlatformAndroid, Success: true},
			{Token: "tokC", Platform: fanout.PlatformAndroid, ErrorCode: fanout.CodeUnregistered, ErrorMessage: "gone"},
		},
	})
}

func TestHistoryStore_Record(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO `push_histories`").
		WillReturnResult(sqlmock.NewResult(1, 1))

	id, err := store.Record(context.Background(), partial(), "admin-1", "오늘의 메뉴", "문어튀김 추가!", fanout.TargetAll)

	require.NoError(t, err)
	assert.Len(t, id, 36)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryStore_RecordError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO `push_histories`").WillReturnError(errors.New("deadlock"))

	_, err := store.Record(context.Background(), partial(), "admin-1", "t", "b", fanout.TargetAll)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock")
}

func TestHistoryStore_ListRecent(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "owner_id", "title", "body", "target",
		"ios_tokens_count", "ios_success_count", "ios_failure_count",
		"android_tokens_count", "android_success_count", "android_failure_count",
		"total_tokens_count", "total_success_count", "total_failure_count",
		"success_rate", "status", "error_message", "created_at",
	}).AddRow(
		"rec-1", "admin-1", "오늘의 메뉴", "문어튀김 추가!", "all",
		1, 1, 0,
		2, 1, 1,
		3, 2, 1,
		66.67, "partial", "UNREGISTERED: gone", created,
	)
	mock.ExpectQuery("SELECT \\* FROM `push_histories` WHERE owner_id = \\?").WillReturnRows(rows)

	records, err := store.ListRecent(context.Background(), "admin-1", 10)

	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, fanout.TargetAll, rec.Target)
	assert.Equal(t, 3, rec.TotalTokensCount)
	assert.Equal(t, 1, rec.AndroidFailureCount)
	assert.Equal(t, fanout.StatusPartial, rec.Status)
	assert.Equal(t, created, rec.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryStore_ListRecentZeroLimit(t *testing.T) {
	store, mock := newMockStore(t)

	records, err := store.ListRecent(context.Background(), "admin-1", 0)

	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryStore_CountSince(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `push_histories` WHERE").
		WithArgs("admin-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := store.CountSince(context.Background(), "admin-1", time.Now().Add(-time.Hour))

	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
