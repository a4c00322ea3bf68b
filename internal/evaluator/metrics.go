package evaluator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vquiz_evaluations_total",
	Help: "Answer evaluations, by result",
}, []string{"result"})
