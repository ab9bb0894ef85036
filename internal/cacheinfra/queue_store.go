package cacheinfra

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goliatone/go-offline-cache/offline"
	"github.com/uptrace/bun"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	_ offline.QueueStore = (*QueueStore)(nil)
	_ offline.Normalizer = (*QueueStore)(nil)
)

type queueModel struct {
	bun.BaseModel `bun:"table:offline_queue,alias:oq"`

	Seq        int64  `bun:"seq,pk,autoincrement"`
	ID         string `bun:"id,notnull,unique"`
	Kind       string `bun:"kind,notnull"`
	Name       string `bun:"name,notnull"`
	Payload    []byte `bun:"payload"`
	Variables  []byte `bun:"variables"`
	TenantID   string `bun:"tenant_id,notnull"`
	EnqueuedAt int64  `bun:"enqueued_at,notnull"`
	RetryCount int    `bun:"retry_count,notnull"`
	MaxRetries int    `bun:"max_retries,notnull"`
	LastError  string `bun:"last_error,notnull"`
}

// QueueStore persists the offline queue in the offline_queue table. Rows are
// replayed in insertion order.
type QueueStore struct {
	db bun.IDB
}

// NewQueueStore wraps an opened database.
func NewQueueStore(db bun.IDB) *QueueStore {
	return &QueueStore{db: db}
}

// Load implements offline.QueueStore.
func (s *QueueStore) Load(ctx context.Context) ([]offline.QueueItem, error) {
	var rows []queueModel
	if err := s.db.NewSelect().Model(&rows).OrderExpr("seq ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("select queue items: %w", err)
	}

	items := make([]offline.QueueItem, 0, len(rows))
	for _, row := range rows {
		item, err := row.toItem()
		if err != nil {
			return nil, fmt.Errorf("decode queue item %s: %w", row.ID, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Insert implements offline.QueueStore.
func (s *QueueStore) Insert(ctx context.Context, item offline.QueueItem) error {
	m, err := newQueueModel(item)
	if err != nil {
		return err
	}
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

// Normalize implements offline.Normalizer. It returns item as Load would
// return it after a restart: integers as int64, nested maps as
// map[string]any and EnqueuedAt truncated to milliseconds.
func (s *QueueStore) Normalize(item offline.QueueItem) (offline.QueueItem, error) {
	m, err := newQueueModel(item)
	if err != nil {
		return offline.QueueItem{}, err
	}
	return m.toItem()
}

// UpdateRetry implements offline.QueueStore.
func (s *QueueStore) UpdateRetry(ctx context.Context, id string, retryCount int, lastError string) error {
	res, err := s.db.NewUpdate().
		Model((*queueModel)(nil)).
		Set("retry_count = ?", retryCount).
		Set("last_error = ?", lastError).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update queue item: %w", err)
	}
	return requireAffected(res, id)
}

// Delete implements offline.QueueStore.
func (s *QueueStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.NewDelete().
		Model((*queueModel)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete queue item: %w", err)
	}
	return requireAffected(res, id)
}

// CountTenant returns the number of queued items owned by tenantID.
func (s *QueueStore) CountTenant(ctx context.Context, tenantID string) (int, error) {
	n, err := s.db.NewSelect().Model((*queueModel)(nil)).Where("tenant_id = ?", tenantID).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count queue items: %w", err)
	}
	return n, nil
}

func newQueueModel(item offline.QueueItem) (*queueModel, error) {
	payload, err := encode(item.Operation.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	variables, err := encode(item.Variables)
	if err != nil {
		return nil, fmt.Errorf("encode variables: %w", err)
	}

	return &queueModel{
		ID:         item.ID,
		Kind:       item.Operation.Kind,
		Name:       item.Operation.Name,
		Payload:    payload,
		Variables:  variables,
		TenantID:   item.TenantID,
		EnqueuedAt: toMillis(item.EnqueuedAt),
		RetryCount: item.RetryCount,
		MaxRetries: item.MaxRetries,
		LastError:  item.LastError,
	}, nil
}

func (m queueModel) toItem() (offline.QueueItem, error) {
	var payload any
	if err := decode(m.Payload, &payload); err != nil {
		return offline.QueueItem{}, err
	}
	var variables map[string]any
	if err := decode(m.Variables, &variables); err != nil {
		return offline.QueueItem{}, err
	}

	return offline.QueueItem{
		ID: m.ID,
		Operation: offline.Operation{
			Kind:    m.Kind,
			Name:    m.Name,
			Payload: payload,
		},
		Variables:  variables,
		EnqueuedAt: fromMillis(m.EnqueuedAt),
		RetryCount: m.RetryCount,
		MaxRetries: m.MaxRetries,
		TenantID:   m.TenantID,
		LastError:  m.LastError,
	}, nil
}

type rowsAffected interface {
	RowsAffected() (int64, error)
}

func requireAffected(res rowsAffected, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("queue item %s: %w", id, offline.ErrNotFound)
	}
	return nil
}

func encode(value any) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decode maps msgpack back onto plain Go values: integers come back as int64
// and nested maps as map[string]any.
func decode(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	dec.SetCustomStructTag("json")
	return dec.Decode(dst)
}
