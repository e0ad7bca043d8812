// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AttemptsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provas_attempts_opened_total",
		Help: "Attempts opened or resumed.",
	})
	AttemptsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provas_attempts_finished_total",
		Help: "Attempts finished, by reason.",
	}, []string{"reason"})
	AutosaveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provas_autosave_failures_total",
		Help: "Answer writes that did not reach the store.",
	})
	FinishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provas_finish_failures_total",
		Help: "Finishing writes that failed and left the attempt in progress.",
	})
	LiveAttempts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "provas_live_attempts",
		Help: "Attempts with a running timer on this replica.",
	})
	SweptAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provas_swept_attempts_total",
		Help: "Expired attempts finished by the background sweeper.",
	})
)

func Handler() http.Handler { return promhttp.Handler() }
