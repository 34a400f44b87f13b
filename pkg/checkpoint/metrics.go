package checkpoint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CheckpointWrites tracks artifacts written by backend
	CheckpointWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_checkpoint_writes_total",
			Help: "Total number of checkpoint artifacts written",
		},
		[]string{"backend"}, // "file", "redis"
	)

	// CheckpointHits tracks existence checks that found an artifact
	CheckpointHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_checkpoint_hits_total",
			Help: "Total number of checkpoint existence checks that found an artifact",
		},
		[]string{"backend"},
	)

	// CheckpointBytes tracks bytes of artifact text written
	CheckpointBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_checkpoint_bytes_total",
			Help: "Total bytes of checkpoint artifact text written",
		},
		[]string{"backend"},
	)

	// CheckpointErrors tracks store operation errors
	CheckpointErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_checkpoint_errors_total",
			Help: "Total number of checkpoint store operation errors",
		},
		[]string{"backend", "operation"}, // "exists", "read", "write", "clear", "indices"
	)
)
