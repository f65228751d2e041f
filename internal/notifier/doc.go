// Package notifier delivers operator messages for task results, task
// failures and skipped runs.
//
// Service is an async pipeline: a bounded queue drained by a small worker
// pool, a token-bucket rate limit, retries with jittered backoff and a dedup
// window that suppresses identical messages. Dedup state can be persisted
// through storage.Store so it survives restarts.
//
// Forwarder subscribes to the bus and turns agent.result and task.failed
// events into notifications for the configured chat.
package notifier
