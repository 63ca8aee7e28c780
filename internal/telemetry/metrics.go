package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AnswersSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "summit_answers_submitted_total",
		Help: "Answers accepted by the answer store.",
	})

	Reveals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "summit_reveals_total",
		Help: "Reveal transitions, each running the scoring engine once.",
	})

	Summits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "summit_summits_total",
		Help: "Players reaching the summit for the first time.",
	})
)
