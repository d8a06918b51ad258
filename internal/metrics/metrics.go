package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_events_published_total",
		Help: "Total number of events appended to the bus, labelled by stream.",
	}, []string{"stream"})

	EventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_events_consumed_total",
		Help: "Total number of events processed and acknowledged, labelled by group.",
	}, []string{"group"})

	EventsFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_events_filtered_total",
		Help: "Total number of messages acknowledged without processing because their type was not subscribed.",
	})

	EventsDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_events_dead_lettered_total",
		Help: "Total number of messages moved to the failed stream, labelled by origin stream.",
	}, []string{"stream"})

	HandlerRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_handler_retries_total",
		Help: "Total number of handler retry attempts after a failure.",
	})

	ReadLoopErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_read_loop_errors_total",
		Help: "Total number of read-loop iterations that failed at the broker level.",
	})

	HandlerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pulse_handler_duration_seconds",
		Help:    "Per-message handler latency including retries.",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15, 60},
	})

	RulesEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_rules_evaluated_total",
		Help: "Total number of rule evaluations, labelled by outcome status.",
	}, []string{"status"})

	ActionsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_actions_executed_total",
		Help: "Total number of rule actions executed, labelled by type and status.",
	}, []string{"action_type", "status"})
)
