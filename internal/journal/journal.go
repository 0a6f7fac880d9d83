package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jarvis-app/realtime/internal/events"
)

// Journal consumes bus events and writes them to realtime_events.
type Journal struct {
	cfg    Config
	logger *slog.Logger

	input *events.Subscription
	db    DB

	batch   []eventRow
	batchMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// New creates a Journal reading from input.
func New(cfg Config, input *events.Subscription, db DB, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = d.FlushInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = d.WriteTimeout
	}
	return &Journal{
		cfg:    cfg,
		logger: logger.With("component", "journal"),
		input:  input,
		db:     db,
		batch:  make([]eventRow, 0, cfg.BatchSize),
	}
}

// EnsureSchema creates the journal table if it does not exist.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create journal schema: %w", err)
	}
	return nil
}

// Start begins consuming events.
func (j *Journal) Start(ctx context.Context) error {
	j.ctx, j.cancel = context.WithCancel(ctx)

	j.wg.Add(2)
	go j.consumeLoop()
	go j.flushLoop()

	j.logger.Info("journal started",
		"batch_size", j.cfg.BatchSize,
		"flush_interval", j.cfg.FlushInterval,
	)
	return nil
}

// Stop drains what has been received so far and writes it.
func (j *Journal) Stop(ctx context.Context) error {
	j.logger.Info("stopping journal")

	if j.cancel != nil {
		j.cancel()
	}

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		j.logger.Warn("journal stop timed out")
	}

	for _, ev := range j.input.Batch(0) {
		j.add(j.transform(ev))
	}
	j.flush(ctx)

	j.logger.Info("journal stopped")
	return nil
}

// Stats returns current metrics.
func (j *Journal) Stats() Metrics {
	j.batchMu.Lock()
	defer j.batchMu.Unlock()
	return j.metrics
}

func (j *Journal) consumeLoop() {
	defer j.wg.Done()

	for {
		ev, ok := j.input.Next(j.ctx)
		if !ok {
			return
		}
		j.handleEvent(ev)
	}
}

func (j *Journal) flushLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.flushBackground()
		}
	}
}

func (j *Journal) handleEvent(ev events.Event) {
	if j.add(j.transform(ev)) {
		j.flushBackground()
	}
}

// flushBackground flushes from the loops. Stop cancels j.ctx while a flush
// may be in flight; that insert still runs to completion or WriteTimeout.
func (j *Journal) flushBackground() {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(j.ctx), j.cfg.WriteTimeout)
	defer cancel()
	j.flush(ctx)
}

// add appends row and reports whether the batch is full.
func (j *Journal) add(row eventRow) bool {
	j.batchMu.Lock()
	defer j.batchMu.Unlock()
	j.batch = append(j.batch, row)
	return len(j.batch) >= j.cfg.BatchSize
}

func (j *Journal) transform(ev events.Event) eventRow {
	row := eventRow{
		EventName:   ev.Name,
		MessageType: string(ev.Type),
		MessageID:   ev.ID,
		ReceivedAt:  ev.ReceivedAt,
	}
	if len(ev.Payload) > 0 {
		row.Payload = []byte(ev.Payload)
	}
	if ev.Timestamp > 0 {
		sent := time.UnixMilli(ev.Timestamp).UTC()
		row.SentAt = &sent
	}
	if row.ReceivedAt.IsZero() {
		row.ReceivedAt = time.Now()
	}
	return row
}

// flush writes the current batch. Failed batches are counted and dropped.
func (j *Journal) flush(ctx context.Context) {
	j.batchMu.Lock()
	if len(j.batch) == 0 {
		j.batchMu.Unlock()
		return
	}
	batch := j.batch
	j.batch = make([]eventRow, 0, j.cfg.BatchSize)
	j.batchMu.Unlock()

	start := time.Now()

	conflicts, err := j.batchInsert(ctx, batch)
	if err != nil {
		j.logger.Error("batch insert failed", "error", err, "count", len(batch))
		j.batchMu.Lock()
		j.metrics.Errors++
		j.batchMu.Unlock()
		return
	}

	j.batchMu.Lock()
	j.metrics.Inserts += int64(len(batch) - conflicts)
	j.metrics.Conflicts += int64(conflicts)
	j.metrics.Flushes++
	j.batchMu.Unlock()

	j.logger.Debug("flushed events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

func (j *Journal) batchInsert(ctx context.Context, rows []eventRow) (conflicts int, err error) {
	if j.db == nil {
		return 0, fmt.Errorf("journal has no database")
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertEvent, r.EventName, r.MessageType, r.MessageID, r.Payload, r.SentAt, r.ReceivedAt)
	}

	results := j.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}
