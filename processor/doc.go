// Package processor implements the job handlers: contact sync, message
// send, document scrape and log prune.
//
// Every handler may run more than once for the same logical job, so each
// guards its external side effect: contact sync checks the order's sync
// status under a per-order lease, message send records the temp id before
// calling the provider and skips ids that already have a provider id.
// Failures come back classified through the retry package.
//
// Register the handlers on an engine with the definitions exposed by
// [Processors]:
//
//	p := processor.New(orders, messages,
//	    processor.WithContactPlatform(crmClient),
//	    processor.WithSender(order.ChannelWhatsApp, waClient),
//	)
//	engine.Register(eng, p.ContactSyncDefinition())
package processor
