package telemetry

import (
	"github.com/goliatone/go-offline-cache/cache"
	"github.com/goliatone/go-offline-cache/invalidation"
	"github.com/goliatone/go-offline-cache/offline"
	"github.com/prometheus/client_golang/prometheus"
)

// Sources are read on every scrape. Nil sources are skipped.
type Sources struct {
	Cache        func() cache.Stats
	Offline      func() offline.Metrics
	Invalidation func() invalidation.Stats
	Online       func() bool
}

type metric struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
}

// Collector exposes cache, invalidation and offline queue counters as
// Prometheus metrics. Values are snapshotted at scrape time, so nothing is
// double counted between the components and the registry.
type Collector struct {
	sources Sources

	tierHits       metric
	misses         metric
	loaderCalls    metric
	loaderFailures metric
	staleFallbacks metric
	decodeFailures metric
	l1Entries      metric
	l1Evictions    metric
	l1Expirations  metric
	l2Faults       metric

	invalidations    metric
	keysInvalidated  metric
	patternsSkipped  metric
	unmatchedChanges metric

	queued            metric
	queuedTotal       metric
	synced            metric
	syncFailures      metric
	permanentFailures metric
	skipped           metric
	offlineSeconds    metric
	syncInProgress    metric
	lastSync          metric
	online            metric
}

// NewCollector builds a collector whose metric names start with namespace.
func NewCollector(namespace string, sources Sources) *Collector {
	counter := func(subsystem, name, help string, labels ...string) metric {
		return metric{
			desc:      prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil),
			valueType: prometheus.CounterValue,
		}
	}
	gauge := func(subsystem, name, help string) metric {
		return metric{
			desc:      prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, nil),
			valueType: prometheus.GaugeValue,
		}
	}

	return &Collector{
		sources: sources,

		tierHits:       counter("cache", "hits_total", "Cache reads answered, by tier.", "tier"),
		misses:         counter("cache", "misses_total", "Cache reads no tier could answer."),
		loaderCalls:    counter("cache", "loader_calls_total", "Loader invocations after local misses."),
		loaderFailures: counter("cache", "loader_failures_total", "Loader invocations that failed or timed out."),
		staleFallbacks: counter("cache", "stale_fallbacks_total", "Reads answered from the persistent tier after a loader failure."),
		decodeFailures: counter("cache", "decode_failures_total", "Persistent entries dropped because they could not be decoded."),
		l1Entries:      gauge("cache", "l1_entries", "Entries resident in the in-process tier."),
		l1Evictions:    counter("cache", "l1_evictions_total", "Capacity evictions from the in-process tier."),
		l1Expirations:  counter("cache", "l1_expirations_total", "Entries dropped from the in-process tier after their TTL."),
		l2Faults:       counter("cache", "l2_faults_total", "Persistent tier storage errors treated as misses."),

		invalidations:    counter("invalidation", "requests_total", "Invalidation requests received."),
		keysInvalidated:  counter("invalidation", "keys_removed_total", "Cache entries removed by invalidation."),
		patternsSkipped:  counter("invalidation", "patterns_skipped_total", "Patterns skipped because placeholders could not be resolved."),
		unmatchedChanges: counter("invalidation", "unmatched_total", "Mutations without any invalidation rule."),

		queued:            gauge("offline", "queue_size", "Writes waiting for replay."),
		queuedTotal:       counter("offline", "queued_total", "Writes appended to the offline queue."),
		synced:            counter("offline", "synced_total", "Queued writes replayed successfully."),
		syncFailures:      counter("offline", "sync_failures_total", "Failed replay attempts."),
		permanentFailures: counter("offline", "dropped_total", "Queued writes dropped without succeeding."),
		skipped:           counter("offline", "skipped_total", "Queued writes skipped because their retry budget was already spent."),
		offlineSeconds:    counter("offline", "offline_seconds_total", "Accumulated time spent offline."),
		syncInProgress:    gauge("offline", "sync_in_progress", "1 while a sync pass runs."),
		lastSync:          gauge("offline", "last_sync_timestamp_seconds", "Unix time of the last completed sync pass."),
		online:            gauge("network", "online", "1 while the origin is reachable."),
	}
}

func (c *Collector) metrics() []metric {
	return []metric{
		c.tierHits, c.misses, c.loaderCalls, c.loaderFailures, c.staleFallbacks,
		c.decodeFailures, c.l1Entries, c.l1Evictions, c.l1Expirations, c.l2Faults,
		c.invalidations, c.keysInvalidated, c.patternsSkipped, c.unmatchedChanges,
		c.queued, c.queuedTotal, c.synced, c.syncFailures, c.permanentFailures,
		c.skipped, c.offlineSeconds, c.syncInProgress, c.lastSync, c.online,
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics() {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	emit := func(m metric, value float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(m.desc, m.valueType, value, labels...)
	}

	if c.sources.Cache != nil {
		s := c.sources.Cache()
		emit(c.tierHits, float64(s.L1Hits), "l1")
		emit(c.tierHits, float64(s.L2Hits), "l2")
		emit(c.tierHits, float64(s.LoaderHits), "loader")
		emit(c.misses, float64(s.Misses))
		emit(c.loaderCalls, float64(s.LoaderCalls))
		emit(c.loaderFailures, float64(s.LoaderFailures))
		emit(c.staleFallbacks, float64(s.StaleFallbacks))
		emit(c.decodeFailures, float64(s.DecodeFailures))
		emit(c.l1Entries, float64(s.L1Entries))
		emit(c.l1Evictions, float64(s.L1Evictions))
		emit(c.l1Expirations, float64(s.L1Expirations))
		emit(c.l2Faults, float64(s.L2Faults))
	}

	if c.sources.Invalidation != nil {
		s := c.sources.Invalidation()
		emit(c.invalidations, float64(s.Requests))
		emit(c.keysInvalidated, float64(s.KeysRemoved))
		emit(c.patternsSkipped, float64(s.Skipped))
		emit(c.unmatchedChanges, float64(s.Unmatched))
	}

	if c.sources.Offline != nil {
		m := c.sources.Offline()
		emit(c.queued, float64(m.Queued))
		emit(c.queuedTotal, float64(m.TotalQueued))
		emit(c.synced, float64(m.Synced))
		emit(c.syncFailures, float64(m.Failed))
		emit(c.permanentFailures, float64(m.PermanentlyFailed))
		emit(c.skipped, float64(m.Skipped))
		emit(c.offlineSeconds, m.TotalOfflineTime.Seconds())
		emit(c.syncInProgress, boolValue(m.SyncInProgress))
		if !m.LastSyncAt.IsZero() {
			emit(c.lastSync, float64(m.LastSyncAt.Unix()))
		}
	}

	if c.sources.Online != nil {
		emit(c.online, boolValue(c.sources.Online()))
	}
}

func boolValue(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
