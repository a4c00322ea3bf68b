package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vquiz_sessions_started_total",
		Help: "Quiz sessions started",
	})

	sessionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vquiz_sessions_completed_total",
		Help: "Quiz sessions that reached their target length",
	})

	attemptsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vquiz_attempts_total",
		Help: "Recorded attempts, by outcome",
	}, []string{"outcome"})

	answerSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vquiz_answer_seconds",
		Help:    "Time taken to answer a question",
		Buckets: []float64{1, 2, 5, 10, 15, 20, 25, 30},
	})
)
