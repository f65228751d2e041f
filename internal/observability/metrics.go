// Package observability serves Prometheus metrics, a health probe and
// optional pprof endpoints for the agent.
package observability

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"enel/internal/eventbus"
	"enel/internal/task/engine"
	"enel/internal/task/scheduler"
)

// Metrics are derived from task lifecycle events on the bus.
type Metrics struct {
	reg *prometheus.Registry

	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	skipped  *prometheus.CounterVec
	running  *prometheus.GaugeVec
	results  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enel_task_runs_total",
			Help: "Completed task runs by outcome (success or failure).",
		}, []string{"task", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "enel_task_duration_seconds",
			Help:    "Task run duration.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}, []string{"task"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enel_task_skipped_total",
			Help: "Due ticks skipped because the previous run was still in flight.",
		}, []string{"task"}),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "enel_task_running",
			Help: "1 while a task run is in flight.",
		}, []string{"task"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enel_results_published_total",
			Help: "Task results published on the host channel.",
		}, []string{"task"}),
	}
	m.reg.MustRegister(
		m.runs, m.duration, m.skipped, m.running, m.results,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Observe updates metrics for one event. Unrelated events are ignored.
func (m *Metrics) Observe(ev eventbus.Event) {
	switch d := ev.Data.(type) {
	case engine.TaskEvent:
		switch ev.Type {
		case eventbus.TypeTaskStarted:
			m.running.WithLabelValues(d.Name).Set(1)
		case eventbus.TypeTaskFinished:
			m.finish(d, "success")
		case eventbus.TypeTaskFailed:
			m.finish(d, "failure")
		}
	case scheduler.SkipEvent:
		m.skipped.WithLabelValues(d.Name).Inc()
	case eventbus.Result:
		m.results.WithLabelValues(d.Task).Inc()
	}
}

func (m *Metrics) finish(d engine.TaskEvent, outcome string) {
	m.running.WithLabelValues(d.Name).Set(0)
	m.runs.WithLabelValues(d.Name, outcome).Inc()
	m.duration.WithLabelValues(d.Name).Observe(d.Duration.Seconds())
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256, eventbus.PrefixTask, eventbus.TypeResult)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return errors.New("metrics subscription closed")
			}
			m.Observe(ev)
		}
	}
}
