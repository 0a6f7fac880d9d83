// Package journal persists bridged gateway events to PostgreSQL.
//
// The journal reads a bus subscription, accumulates rows and inserts them with
// pgx.Batch either when the batch is full or on every flush interval. Rows are
// append-only; replays of the same frame are ignored by a unique index.
package journal
