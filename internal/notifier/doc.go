// Package notifier delivers new-item notifications downstream.
//
// A Sender formats and posts one Payload (Slack incoming webhook, Telegram
// chat). Dispatcher wraps a Sender with a token-bucket limiter, a per-call
// timeout and bounded exponential-backoff retries; when every attempt fails it
// returns a *NotificationError.
package notifier
