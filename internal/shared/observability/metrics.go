package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	ResolutionLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_resolution_lookups_total",
		Help: "Name lookups served, by name kind and serving tier.",
	}, []string{"kind", "tier"})

	ResolutionsInvalidatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_resolutions_invalidated_total",
		Help: "Cached resolutions marked invalidated by targeted invalidation.",
	})

	FullInvalidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_full_invalidations_total",
		Help: "Times the bookkeeping ceiling forced an invalidate-everything pass.",
	})

	DirectoryWatchesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_directory_watches_active",
		Help: "Live ref-counted directory watches over failed-lookup locations.",
	})

	CustomFailedLookupPaths = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_custom_failed_lookup_paths",
		Help: "Failed-lookup paths tracked individually because of an unrecognized extension.",
	})

	UpdateGraphDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_update_graph_seconds",
		Help:    "Time spent in one graph rebuild pass.",
		Buckets: prometheus.DefBuckets,
	})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_watcher_events_total",
		Help: "Total number of file system events received by the watcher.",
	})

	NotificationQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_notification_queue_depth",
		Help: "Watch notifications waiting to be applied by the service loop.",
	})

	NotificationsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_notifications_dropped_total",
		Help: "Watch notifications dropped on queue overflow (degrades to a full recheck).",
	})
)
