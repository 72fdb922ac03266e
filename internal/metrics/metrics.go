// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package metrics counts archive operations for export to a Prometheus textfile collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	Registry = prometheus.NewRegistry()

	Operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "azip",
		Subsystem: "archive",
		Name:      "operations_total",
		Help:      "Archive operations by kind and result.",
	}, []string{"op", "result"})

	Duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "azip",
		Subsystem: "archive",
		Name:      "operation_seconds",
		Help:      "Wall time of archive operations.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"op"})

	Corrupt = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "azip",
		Subsystem: "archive",
		Name:      "corrupt_total",
		Help:      "Operations that ended with the archive flagged as corrupt.",
	}, []string{"op"})

	Bytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "azip",
		Subsystem: "codec",
		Name:      "bytes_total",
		Help:      "Uncompressed bytes encoded, extracted, or copied through.",
	}, []string{"direction"})
)

func init() {
	Registry.MustRegister(Operations, Duration, Corrupt, Bytes)
}

// Observe records the outcome of one operation started at start.
func Observe(op string, start time.Time, err error, corrupt bool) {
	Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	Operations.WithLabelValues(op, result).Inc()
	if corrupt {
		Corrupt.WithLabelValues(op).Inc()
	}
}

// WriteFile dumps every metric in the text exposition format.
func WriteFile(filename string) error {
	return prometheus.WriteToTextfile(filename, Registry)
}
