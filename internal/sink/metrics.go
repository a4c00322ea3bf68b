package sink

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vquiz_sink_deliveries_total",
	Help: "Attempt deliveries to the history sink, by result",
}, []string{"result"})
