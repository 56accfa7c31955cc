package vaultsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loudthoughts_sync_notes_total",
		Help: "Buffered notes handled by the vault syncer, by outcome.",
	}, []string{"outcome"})

	batchesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loudthoughts_sync_batches_total",
		Help: "Reconciled buffer snapshots processed by the vault syncer.",
	})
)
