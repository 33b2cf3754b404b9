// Package notifier forwards pipeline events to operators.
//
// The service subscribes to the event bus with a bounded buffer, so a slow
// sink drops events instead of slowing publishing down. Delivery is rate
// limited and best-effort: sink errors are logged and the event is gone.
//
// # Sinks
//
// A webhook sink POSTs the event as JSON. A Telegram sink sends a short
// text line to a chat, optionally inside a forum topic.
//
// # Filtering
//
// Config.Types selects event types. An entry ending in "*" matches by
// prefix. Without entries the batch-level events are forwarded and the
// per-item ones are not.
package notifier
