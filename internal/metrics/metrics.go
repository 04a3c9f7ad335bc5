// Package metrics counts runs, tool calls and executor attempts on a private
// Prometheus registry and writes them out as a node-exporter textfile.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "webpilot"

// Collector holds the run metrics. A nil *Collector is valid and records
// nothing.
type Collector struct {
	registry *prometheus.Registry

	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	loopIterations   prometheus.Histogram
	toolCallsTotal   *prometheus.CounterVec
	strategyAttempts *prometheus.CounterVec
	downloadAttempts *prometheus.CounterVec
	lastRunTimestamp prometheus.Gauge
}

// NewCollector registers every metric on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Task runs by outcome and error kind",
			},
			[]string{"outcome", "error_kind"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall-clock duration of task runs",
				Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"outcome"},
		),
		loopIterations: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "loop_iterations",
				Help:      "Model calls made by the agent loop per run",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 9),
			},
		),
		toolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Tool calls executed by the agent loop",
			},
			[]string{"tool", "status"},
		),
		strategyAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "strategy_attempts_total",
				Help:      "Fallback strategy attempts by action and strategy",
			},
			[]string{"action", "strategy", "status"},
		),
		downloadAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "download_attempts_total",
				Help:      "Signed resource download attempts by outcome",
			},
			[]string{"outcome"},
		),
		lastRunTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the most recent run finished",
			},
		),
	}
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// StrategyAttempt counts one fallback strategy attempt.
func (c *Collector) StrategyAttempt(action, strategy string, ok bool) {
	if c == nil {
		return
	}
	c.strategyAttempts.WithLabelValues(action, strategy, status(ok)).Inc()
}

// DownloadAttempt counts one transfer attempt.
func (c *Collector) DownloadAttempt(outcome string) {
	if c == nil {
		return
	}
	c.downloadAttempts.WithLabelValues(outcome).Inc()
}

// ToolCall counts one tool call made by the agent loop.
func (c *Collector) ToolCall(tool string, ok bool) {
	if c == nil {
		return
	}
	c.toolCallsTotal.WithLabelValues(tool, status(ok)).Inc()
}

// RunFinished records a sealed run.
func (c *Collector) RunFinished(outcome, errorKind string, iterations int, duration time.Duration) {
	if c == nil {
		return
	}
	if errorKind == "" {
		errorKind = "none"
	}
	c.runsTotal.WithLabelValues(outcome, errorKind).Inc()
	c.runDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	c.loopIterations.Observe(float64(iterations))
	c.lastRunTimestamp.SetToCurrentTime()
}

// WriteTextfile writes the current values in the text exposition format for
// the node exporter's textfile collector. An empty path is a no-op.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
