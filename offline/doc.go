// Package offline keeps writes flowing while the origin is unreachable.
//
// Three pieces cooperate:
//
//   - Queue is a durable FIFO of pending writes backed by a QueueStore.
//   - NetworkMonitor tracks online/offline state, fed by transport events
//     through SetOnline and by an active Prober while offline.
//   - SyncManager replays the queue through an Executor when connectivity
//     returns and asks an Invalidator to purge affected cache entries after
//     every confirmed write.
//
// # Retries
//
// A failed replay increments the item's retry counter. Once the counter
// reaches MaxRetries the item is dropped and reported in SyncResult.Errors
// with Permanent set. Executors can skip the retry budget altogether by
// returning an error wrapped with Permanent.
//
// A pass stops early when the monitor reports offline. Items that were not
// attempted keep their retry count.
//
// # Concurrency
//
// At most one sync pass runs at a time; overlapping calls return an empty
// SyncResult immediately. Monitor listeners run synchronously in
// registration order, so the reconnect sync runs on the goroutine that
// reported connectivity.
package offline
