package miso

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "miso_mutations_total",
		Help: "Dataset mutations by operation, including those that changed nothing",
	}, []string{"op"})

	deltasTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "miso_deltas_total",
		Help: "Row deltas produced by dataset mutations",
	}, []string{"kind"})

	changeEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "miso_change_events_total",
		Help: "Change events triggered, by emitting entity",
	}, []string{"source"})

	productRecomputesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "miso_product_recomputes_total",
		Help: "Product recomputations after a source change",
	})

	productEmitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "miso_product_emits_total",
		Help: "Product change events, emitted only when the value changed",
	})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "miso_fetch_duration_seconds",
		Help:    "Duration of Fetch from extract to replace",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})
)

func countDeltas(deltas []Delta) {
	for _, d := range deltas {
		deltasTotal.WithLabelValues(d.Kind.String()).Inc()
	}
}
