package journal

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Config contains configuration for the journal.
type Config struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// WriteTimeout bounds one batch insert.
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		WriteTimeout:  10 * time.Second,
	}
}

// Metrics counts journal activity.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
}

// DB is the subset of *pgxpool.Pool the journal uses.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// eventRow is one row of realtime_events.
type eventRow struct {
	EventName   string
	MessageType string
	MessageID   string
	Payload     []byte // JSONB, nil when the frame had none
	SentAt      *time.Time
	ReceivedAt  time.Time
}

// Schema creates the journal table. It is safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS realtime_events (
	id           BIGSERIAL PRIMARY KEY,
	event_name   TEXT        NOT NULL,
	message_type TEXT        NOT NULL,
	message_id   TEXT        NOT NULL DEFAULT '',
	payload      JSONB,
	sent_at      TIMESTAMPTZ,
	received_at  TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS realtime_events_dedup
	ON realtime_events (event_name, message_id, received_at);
CREATE INDEX IF NOT EXISTS realtime_events_received_at
	ON realtime_events (received_at);
`

const insertEvent = `
	INSERT INTO realtime_events (event_name, message_type, message_id, payload, sent_at, received_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (event_name, message_id, received_at) DO NOTHING
`
