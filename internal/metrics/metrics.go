package metrics

import (
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driving_sessions_started_total",
		Help: "The total number of driving sessions started.",
	})
	SessionsStopped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driving_sessions_stopped_total",
		Help: "The total number of driving sessions stopped.",
	})
	PointsAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driving_points_appended_total",
		Help: "The total number of matched points appended to session paths.",
	})
	MatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driving_map_match_failures_total",
		Help: "The total number of fixes rejected by map matching.",
	})
	AppendConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driving_append_conflicts_total",
		Help: "The total number of stale-session conflicts during path appends.",
	})
)

func RegisterRoutes(r fiber.Router) {
	r.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}
