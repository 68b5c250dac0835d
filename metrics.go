package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	reqCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "app_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	reqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "app_request_duration_seconds",
			Help: "Request duration seconds",
		},
		[]string{"method", "path"},
	)

	errorCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "app_errors_total",
			Help: "Total app errors",
		},
		[]string{"handler", "type"},
	)

	// xpAwarded counts XP granted, labelled by the action that earned it.
	xpAwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nutribot_xp_awarded_total",
			Help: "XP granted to users",
		},
		[]string{"action"},
	)

	achievementsUnlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nutribot_achievements_unlocked_total",
			Help: "Achievements unlocked",
		},
		[]string{"code"},
	)

	searchCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nutribot_food_search_cache_total",
			Help: "Food search cache lookups",
		},
		[]string{"result"},
	)
)

func initMetrics() {
	prometheus.MustRegister(reqCount, reqDuration, errorCount, xpAwarded, achievementsUnlocked, searchCache)
}
