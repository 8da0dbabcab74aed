package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tournamentsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tournament_started_total",
		Help: "Count of tournaments started by this validator.",
	})
	tournamentsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tournament_failed_total",
		Help: "Count of tournaments that reached the failed status.",
	})
	tournamentsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tournament_completed_total",
		Help: "Count of tournaments that completed and emitted weights.",
	})
	jobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tournament_jobs_processed_total",
		Help: "Count of queue jobs processed, by kind and outcome.",
	}, []string{"kind", "outcome"})
	runsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tournament_runs_finished_total",
		Help: "Count of evaluation runs finished, by terminal status.",
	}, []string{"status"})
)
