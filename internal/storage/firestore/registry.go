// --- File: internal/storage/firestore/registry.go ---
package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

const DefaultTokenCollection = "fcm_tokens"

// TokenRegistry reads an active-token snapshot maintained by the token
// registration service. It never writes.
type TokenRegistry struct {
	client     *firestore.Client
	collection string
	logger     *slog.Logger
}

func NewTokenRegistry(client *firestore.Client, collection string, logger *slog.Logger) *TokenRegistry {
	if collection == "" {
		collection = DefaultTokenCollection
	}
	return &TokenRegistry{
		client:     client,
		collection: collection,
		logger:     logger.With("component", "FirestoreTokenRegistry"),
	}
}

// tokenDoc mirrors the registration record. A missing notifications_enabled
// field means the user never opted out.
type tokenDoc struct {
	Token                string `firestore:"token"`
	Platform             string `firestore:"platform"`
	IsActive             bool   `firestore:"is_active"`
	NotificationsEnabled *bool  `firestore:"notifications_enabled,omitempty"`
}

// Snapshot returns every active, opted-in token for target grouped by platform.
func (r *TokenRegistry) Snapshot(ctx context.Context, target fanout.Target) (fanout.TokensByPlatform, error) {
	q := r.client.Collection(r.collection).Where("is_active", "==", true)
	if target != fanout.TargetAll {
		q = q.Where("platform", "==", string(target))
	}
	iter := q.Documents(ctx)
	defer iter.Stop()

	var docs []tokenDoc
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}
		var d tokenDoc
		if err := doc.DataTo(&d); err != nil {
			r.logger.Warn("Skipping undecodable token document", "doc_id", doc.Ref.ID, "err", err)
			continue
		}
		docs = append(docs, d)
	}
	return partition(docs, target), nil
}

// partition applies the opt-in filter and groups tokens by platform, dropping
// duplicates within a platform.
func partition(docs []tokenDoc, target fanout.Target) fanout.TokensByPlatform {
	out := fanout.TokensByPlatform{}
	seen := map[fanout.Platform]map[string]struct{}{}
	for _, d := range docs {
		p := fanout.Platform(d.Platform)
		if !d.IsActive || d.Token == "" || !p.Valid() || !target.Includes(p) {
			continue
		}
		if d.NotificationsEnabled != nil && !*d.NotificationsEnabled {
			continue
		}
		if seen[p] == nil {
			seen[p] = map[string]struct{}{}
		}
		if _, dup := seen[p][d.Token]; dup {
			continue
		}
		seen[p][d.Token] = struct{}{}
		out[p] = append(out[p], d.Token)
	}
	return out
}
