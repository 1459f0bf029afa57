package descrambler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	packetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsgate_descrambler_packets_total",
		Help: "Packets processed, by outcome (passthrough, decrypted, dropped).",
	}, []string{"outcome"})

	scrambledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsgate_descrambler_scrambled_packets_total",
		Help: "Scrambled packets accepted for descrambling, by key parity.",
	}, []string{"parity"})

	flushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsgate_descrambler_flushes_total",
		Help: "Batch flushes, by trigger (full, parity, deadline, rekey, untimed, unkeyed, explicit, close).",
	}, []string{"reason"})

	batchSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tsgate_descrambler_batch_seconds",
		Help:    "Wall time of one batch decrypt call.",
		Buckets: prometheus.ExponentialBuckets(50e-6, 2, 12),
	})
)

const (
	outcomePassthrough = "passthrough"
	outcomeDecrypted   = "decrypted"
	outcomeDropped     = "dropped"
)

var parityLabel = [2]string{"even", "odd"}
