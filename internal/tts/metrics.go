package tts

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vquiz_tts_cache_lookups_total",
	Help: "Text-to-speech cache lookups, by result",
}, []string{"result"})
