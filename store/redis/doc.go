// Package redis implements store.Queue on Redis. Each lane is a Sorted Set
// scored by run-at time, jobs and dead letters are Hashes, and cron entries
// are JSON strings guarded by SET NX lock keys. Delivery status updates are
// fanned out over Redis Pub/Sub.
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
