// Package notifier delivers watch facts to chat destinations.
//
// # Delivery
//
// Deliver is synchronous: the engine needs to know whether the fact reached
// the destination before it advances the cursor. There is no queue and no
// retry; a failed delivery is simply attempted again on the next cycle.
//
// # Destinations
//
// A target's channel (and optional forum thread) wins over its user id. A
// target with only a user id is delivered as a direct message. Scoreboard
// targets carrying a message_id setting edit that message in place.
//
// # History
//
// For operator visibility the service keeps a small in-memory history of
// recent deliveries, successful or not.
package notifier
