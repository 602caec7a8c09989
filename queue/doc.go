// Package queue enforces lane limits and per-record serialization at
// dequeue time.
//
// # Lane Configuration
//
// Each lane may cap how many of its jobs run at once and how fast they
// are released to workers:
//
//	queue.Config{
//	    Lane:           job.LaneCritical,
//	    MaxConcurrency: 10,
//	    RateLimit:      5,  // jobs per second, e.g. the contact platform limit
//	    RateBurst:      10,
//	}
//
// # Keys
//
// Jobs that mutate one record carry a key (for example the order id of a
// contact-sync). [Manager] admits at most one job per key at a time
// across every lane, which makes the order's sync status a single-writer
// field within a process. Cross-process exclusion is the store's lease.
//
//	if m.Acquire(j.Lane, j.Key) {
//	    defer m.Release(j.Lane, j.Key)
//	    // process the job
//	}
package queue
