// Package callback applies delivery-status callbacks from messaging
// providers to the message log.
//
// A callback is authenticated with an HMAC-SHA256 signature over the raw
// body, decoded into provider-neutral [Event] values, resolved to the
// originating message through its correlation token (or the provider
// message id when the token was not echoed), and applied as a monotonic
// status update. Applied updates are published to a [Notifier] so waiting
// clients learn about them without polling.
package callback
