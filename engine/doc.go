// Package engine wires the subsystems together and provides the
// application-level API for registering and enqueuing work.
//
// The engine package exists to break an import cycle: the root visapi
// package defines Entity and the sentinel errors (imported by job, cron,
// order, and the rest) and therefore cannot import those packages back.
// Engine sits above all subsystem packages and below the application
// layer.
//
// # Building an Engine
//
//	d, err := visapi.New(
//	    visapi.WithStore(store),
//	    visapi.WithLaneConcurrency("critical", 10),
//	)
//
//	eng, err := engine.Build(d,
//	    engine.WithBackoff(backoff.NewExponential(time.Second, time.Minute)),
//	    engine.WithQueueConfig(queue.Config{Lane: job.LaneCritical, RateLimit: 5}),
//	    engine.WithSaga(saga.WithRequiredNotifications(saga.DefaultNotifications()...)),
//	)
//
// Build creates one worker pool per configured lane. The lanes share a
// queue.Manager, so jobs carrying the same key never run at once.
//
// # Registering Work
//
//	engine.RegisterProcessors(eng, procs)
//	engine.Register(eng, procs.ContactSyncDefinition())
//	engine.RegisterCron(ctx, eng, cron.Definition[processor.LogPrune]{Name: "log-prune", Schedule: "@daily"})
//
// # Enqueuing Jobs
//
//	engine.Enqueue(ctx, eng, processor.ContactSync{OrderID: "IL250824IN15"})
//	engine.Enqueue(ctx, eng, payload, job.WithLane(job.LaneBulk), job.WithDelay(time.Minute))
package engine
