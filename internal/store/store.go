package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mailfinder/internal/model"
)

// Cache namespaces stored in kv_cache.
const (
	NamespaceDomain  = "domain"
	NamespacePattern = "pattern"
	NamespaceBounce  = "seen_bounce"
)

// ProspectFilter selects prospects for an inference run.
type ProspectFilter struct {
	WithoutSuggestion bool `json:"without_suggestion,omitempty"`
	Limit             int  `json:"limit,omitempty"`
}

// Store defines the persistence interface for the email pipeline.
type Store interface {
	// Prospects
	InsertProspect(ctx context.Context, p *model.Prospect) (int64, error)
	GetProspect(ctx context.Context, id int64) (*model.Prospect, error)
	ListProspects(ctx context.Context, filter ProspectFilter) ([]model.Prospect, error)

	// Messages
	InsertMessage(ctx context.Context, m *model.Message) (int64, error)
	LatestMessages(ctx context.Context) (map[string]model.Message, error)

	// Suggestions. UpsertSuggestions writes all rows in one transaction.
	UpsertSuggestions(ctx context.Context, suggestions []model.Suggestion) error
	ListSuggestionRows(ctx context.Context) ([]model.SuggestionRow, error)
	CountSuggestionsByStatus(ctx context.Context) (map[model.SuggestionStatus]int, error)

	// Cache. A stored JSON null is a cached negative; ok=false means no entry.
	GetCache(ctx context.Context, namespace, key string) (json.RawMessage, bool, error)
	SetCache(ctx context.Context, namespace, key string, value json.RawMessage) error

	// Outbox
	ReplaceOutbox(ctx context.Context, entries []model.OutboxEntry) error
	ListOutbox(ctx context.Context, filter model.OutboxFilter) ([]model.OutboxEntry, error)
	UpdateOutboxStatus(ctx context.Context, id int64, status model.OutboxStatus, errMsg string, sentAt *time.Time) error
	UpdateOutboxByEmail(ctx context.Context, email string, status model.OutboxStatus, errMsg string) (int64, error)
	CountOutboxByStatus(ctx context.Context) (map[model.OutboxStatus]int, error)

	// Lifecycle
	Reset(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// GetCached decodes a cache entry. A cached negative returns (nil, true, nil).
func GetCached[T any](ctx context.Context, s Store, namespace, key string) (*T, bool, error) {
	raw, ok, err := s.GetCache(ctx, namespace, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, true, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false, eris.Wrapf(err, "store: decode cache %s/%s", namespace, key)
	}
	return &v, true, nil
}

// SetCached encodes value into the cache. A nil pointer stores a negative.
func SetCached[T any](ctx context.Context, s Store, namespace, key string, value *T) error {
	raw := json.RawMessage("null")
	if value != nil {
		b, err := json.Marshal(value)
		if err != nil {
			return eris.Wrapf(err, "store: encode cache %s/%s", namespace, key)
		}
		raw = b
	}
	return s.SetCache(ctx, namespace, key, raw)
}
