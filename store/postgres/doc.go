// Package postgres implements store.Store on PostgreSQL with pgx/v5 and raw
// SQL. Jobs are claimed with FOR UPDATE SKIP LOCKED, order mutations are
// conditional UPDATEs keyed by order id, and the schema is applied by goose
// from embedded migrations.
package postgres
