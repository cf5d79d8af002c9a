// --- File: internal/storage/firestore/history.go ---
// Package firestore stores delivery history and reads the token registry on
// Google Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

const DefaultHistoryCollection = "push_histories"

// HistoryStore implements fanout.Recorder using Google Cloud Firestore.
type HistoryStore struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

func NewHistoryStore(client *firestore.Client, collection string) *HistoryStore {
	if collection == "" {
		collection = DefaultHistoryCollection
	}
	return &HistoryStore{client: client, collection: collection, now: time.Now}
}

// historyDoc is the internal DB representation.
type historyDoc struct {
	OwnerID             string    `firestore:"owner_id"`
	Title               string    `firestore:"title"`
	Body                string    `firestore:"body"`
	Target              string    `firestore:"target"`
	IOSTokensCount      int       `firestore:"ios_tokens_count"`
	IOSSuccessCount     int       `firestore:"ios_success_count"`
	IOSFailureCount     int       `firestore:"ios_failure_count"`
	AndroidTokensCount  int       `firestore:"android_tokens_count"`
	AndroidSuccessCount int       `firestore:"android_success_count"`
	AndroidFailureCount int       `firestore:"android_failure_count"`
	TotalTokensCount    int       `firestore:"total_tokens_count"`
	TotalSuccessCount   int       `firestore:"total_success_count"`
	TotalFailureCount   int       `firestore:"total_failure_count"`
	SuccessRate         float64   `firestore:"success_rate"`
	Status              string    `firestore:"status"`
	ErrorMessage        string    `firestore:"error_message,omitempty"`
	CreatedAt           time.Time `firestore:"created_at"`
}

func toDoc(r fanout.Record) historyDoc {
	return historyDoc{
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

func (d historyDoc) toRecord(id string) fanout.Record {
	return fanout.Record{
		ID:                  id,
		OwnerID:             d.OwnerID,
		Title:               d.Title,
		Body:                d.Body,
		Target:              fanout.Target(d.Target),
		IOSTokensCount:      d.IOSTokensCount,
		IOSSuccessCount:     d.IOSSuccessCount,
		IOSFailureCount:     d.IOSFailureCount,
		AndroidTokensCount:  d.AndroidTokensCount,
		AndroidSuccessCount: d.AndroidSuccessCount,
		AndroidFailureCount: d.AndroidFailureCount,
		TotalTokensCount:    d.TotalTokensCount,
		TotalSuccessCount:   d.TotalSuccessCount,
		TotalFailureCount:   d.TotalFailureCount,
		SuccessRate:         d.SuccessRate,
		Status:              fanout.Status(d.Status),
		ErrorMessage:        d.ErrorMessage,
		CreatedAt:           d.CreatedAt.UTC(),
	}
}

// Record creates one immutable history document.
func (s *HistoryStore) Record(ctx context.Context, result *fanout.Result, ownerID, title, body string, target fanout.Target) (string, error) {
	rec := fanout.NewRecord(uuid.NewString(), s.now(), result, ownerID, title, body, target)
	if _, err := s.client.Collection(s.collection).Doc(rec.ID).Create(ctx, toDoc(rec)); err != nil {
		return "", fmt.Errorf("failed to create history %s: %w", rec.ID, err)
	}
	return rec.ID, nil
}

// ListRecent returns the owner's records newest first.
func (s *HistoryStore) ListRecent(ctx context.Context, ownerID string, limit int) ([]fanout.Record, error) {
	if limit <= 0 {
		return []fanout.Record{}, nil
	}
	iter := s.client.Collection(s.collection).
		Where("owner_id", "==", ownerID).
		OrderBy("created_at", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	records := make([]fanout.Record, 0, limit)
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}
		var d historyDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, fmt.Errorf("failed to decode history %s: %w", doc.Ref.ID, err)
		}
		records = append(records, d.toRecord(doc.Ref.ID))
	}
	return records, nil
}

// CountSince counts the owner's records with created_at >= since.
func (s *HistoryStore) CountSince(ctx context.Context, ownerID string, since time.Time) (int, error) {
	iter := s.client.Collection(s.collection).
		Where("owner_id", "==", ownerID).
		Where("created_at", ">=", since.UTC()).
		Select().
		Documents(ctx)
	defer iter.Stop()

	count := 0
	for {
		_, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return count, nil
		}
		if err != nil {
			return 0, fmt.Errorf("firestore iteration failed: %w", err)
		}
		count++
	}
}
