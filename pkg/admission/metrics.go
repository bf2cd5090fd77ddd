package admission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AdmissionDecisions tracks decisions by tier and outcome (allowed, denied)
	AdmissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "learnforge_admission_decisions_total",
		Help: "Total admission decisions by tier and outcome",
	}, []string{"tier", "decision"})

	// AdmissionDenials tracks denials by the ceiling that was hit
	AdmissionDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "learnforge_admission_denials_total",
		Help: "Total admission denials by exceeded ceiling",
	}, []string{"reason"})

	// AdmissionEvictions tracks identities dropped from the quota table
	AdmissionEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "learnforge_admission_evictions_total",
		Help: "Total number of identities evicted from the quota table",
	})
)
