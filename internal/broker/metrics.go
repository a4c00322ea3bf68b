package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vquiz_broker_attempts_total",
		Help: "Provider calls made by the broker, by outcome",
	}, []string{"outcome"})

	exhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vquiz_broker_exhausted_total",
		Help: "Broker executions that ran out of credential/model pairs",
	})
)
