package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	draftsSavedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fieldreport",
		Name:      "drafts_saved_total",
		Help:      "Drafts saved through the API.",
	})

	reportsFinalizedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldreport",
		Name:      "reports_finalized_total",
		Help:      "Reports that received a final identifier, by path.",
	}, []string{"path"})

	submitFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fieldreport",
		Name:      "submit_failures_total",
		Help:      "Submissions the remote backend failed or rejected.",
	})

	syncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldreport",
		Name:      "sync_runs_total",
		Help:      "Remote sync attempts, by trigger and result.",
	}, []string{"trigger", "status"})

	counterNumber = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fieldreport",
		Name:      "counter_number",
		Help:      "Highest sequence number assigned in the current year.",
	})
)
