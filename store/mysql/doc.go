// Package mysql implements store.Records (orders and the message log) on
// MySQL through gorm. Sync leases and stage changes are conditional UPDATEs
// judged by RowsAffected; read-modify-write paths lock the row with
// SELECT ... FOR UPDATE inside a transaction.
package mysql
