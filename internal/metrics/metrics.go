// Package metrics exposes the server's prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AgentsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "conveyor",
		Subsystem: "agents",
		Name:      "by_state",
		Help:      "Number of registered agents per derived lifecycle state.",
	}, []string{"state"})

	MaterialUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conveyor",
		Subsystem: "materials",
		Name:      "updates_total",
		Help:      "Material update attempts by result.",
	}, []string{"result"})

	MaterialUpdateSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "conveyor",
		Subsystem: "materials",
		Name:      "update_seconds",
		Help:      "Duration of material updates, including checkout and persistence.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	ModificationsDiscoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "conveyor",
		Subsystem: "materials",
		Name:      "modifications_discovered_total",
		Help:      "Newly persisted modifications across all materials.",
	})

	TimelineInsertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "conveyor",
		Subsystem: "timeline",
		Name:      "inserts_total",
		Help:      "Pipeline instances placed onto the natural-order timeline.",
	})
)
