package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-webthing/internal/thing"
)

// List limits.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// recorded_at is stored fixed-width in UTC so string comparison orders it.
const storedTimeFormat = "2006-01-02T15:04:05.000Z"

// Entry is one recorded notification.
type Entry struct {
	ID         int64           `json:"id"`
	ThingID    string          `json:"thingId"`
	Kind       string          `json:"kind"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	RecordedAt time.Time       `json:"recordedAt"`
}

// Query filters a List call. Empty Kind and Name match everything.
type Query struct {
	ThingID string
	Kind    string
	Name    string
	Limit   int
}

// Repository persists notification history.
type Repository interface {
	Record(ctx context.Context, e *Entry) error
	List(ctx context.Context, q Query) ([]Entry, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository implements Repository on the notification_history table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a SQLite-backed history repository.
func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// ValidKind reports whether kind is a notification message type.
func ValidKind(kind string) bool {
	switch kind {
	case thing.MessagePropertyStatus, thing.MessageActionStatus, thing.MessageEvent:
		return true
	}
	return false
}

// EntryFromMessage converts a Thing notification into an Entry. Every
// notification carries a single key naming the property, action or event.
func EntryFromMessage(msg thing.Message) (*Entry, error) {
	if !ValidKind(msg.MessageType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, msg.MessageType)
	}
	if len(msg.Data) != 1 {
		return nil, fmt.Errorf("%w: %d entries", ErrInvalidMessage, len(msg.Data))
	}

	e := &Entry{ThingID: msg.ThingID, Kind: msg.MessageType}
	for name, value := range msg.Data {
		payload, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encoding payload: %w", err)
		}
		e.Name = name
		e.Payload = payload
	}
	return e, nil
}

// Record inserts an entry. RecordedAt defaults to now.
func (r *SQLiteRepository) Record(ctx context.Context, e *Entry) error {
	if !ValidKind(e.Kind) {
		return fmt.Errorf("%w: %q", ErrInvalidKind, e.Kind)
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = r.now()
	}
	e.RecordedAt = e.RecordedAt.UTC().Truncate(time.Millisecond)

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO notification_history (thing_id, kind, name, payload, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.ThingID, e.Kind, e.Name, string(e.Payload), e.RecordedAt.Format(storedTimeFormat),
	)
	if err != nil {
		return fmt.Errorf("recording notification: %w", err)
	}
	e.ID, _ = res.LastInsertId() //nolint:errcheck // sqlite always supports it
	return nil
}

// List returns the newest entries for a thing, newest first.
func (r *SQLiteRepository) List(ctx context.Context, q Query) ([]Entry, error) {
	if q.Kind != "" && !ValidKind(q.Kind) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, q.Kind)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	var b strings.Builder
	b.WriteString(`SELECT id, thing_id, kind, name, payload, recorded_at
		FROM notification_history WHERE thing_id = ?`)
	args := []any{q.ThingID}
	if q.Kind != "" {
		b.WriteString(" AND kind = ?")
		args = append(args, q.Kind)
	}
	if q.Name != "" {
		b.WriteString(" AND name = ?")
		args = append(args, q.Name)
	}
	b.WriteString(" ORDER BY id DESC LIMIT ?")
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var payload, recordedAt string
		if err := rows.Scan(&e.ID, &e.ThingID, &e.Kind, &e.Name, &payload, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		e.RecordedAt, _ = time.Parse(storedTimeFormat, recordedAt) //nolint:errcheck // format is controlled
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries recorded before the cutoff.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM notification_history WHERE recorded_at < ?",
		before.UTC().Format(storedTimeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // sqlite always supports it
	return n, nil
}
