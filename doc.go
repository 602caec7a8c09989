// Package visapi is the asynchronous orchestration core behind visa-order
// intake. An inbound order is handed to the order-sync saga, which drives
// contact synchronization and transactional notifications through a
// lane-based job dispatcher with retry, backoff, and a dead-letter sink.
//
// # Quick Start
//
//	d, err := visapi.New(
//	    visapi.WithStore(redisStore),
//	    visapi.WithLaneConcurrency("critical", 10),
//	)
//	eng, err := engine.Build(d, engine.WithOrderStore(orders), ...)
//
// # Architecture
//
// Every subsystem (job, dlq, cron, order, message) defines its own store
// interface. store/memory implements all of them; store/redis backs the
// queue side and store/postgres or store/mysql back the record side.
//
// Queue entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based.
// Order identifiers are business identifiers such as "IL250824IN15".
package visapi
