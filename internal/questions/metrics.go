package questions

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	servedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vquiz_questions_served_total",
		Help: "Questions handed to sessions, by source",
	}, []string{"source"})

	duplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vquiz_questions_duplicates_total",
		Help: "Generated questions rejected because the user had already seen them",
	})
)
