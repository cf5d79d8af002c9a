// --- File: internal/platform/metrics/transport.go ---
// Package metrics decorates transports with Prometheus instrumentation.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

const (
	median = 0.5
	p90    = 0.9
	p99    = 0.99

	medianError = 0.05
	p90Error    = 0.01
	p99Error    = 0.001

	maxAgeDuration = 5 * time.Minute
)

// Collector owns the metric vectors shared by every decorated transport.
type Collector struct {
	gatherer        prometheus.Gatherer
	sendDuration    *prometheus.SummaryVec
	sendCounter     *prometheus.CounterVec
	sendCodeCounter *prometheus.CounterVec
}

// NewCollector registers the transport metrics with reg.
func NewCollector(reg *prometheus.Registry) *Collector {
	c := &Collector{
		gatherer: reg,
		sendDuration: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name:       "fanout_transport_send_duration_seconds",
				Help:       "Duration of single-token transport sends in seconds.",
				Objectives: map[float64]float64{median: medianError, p90: p90Error, p99: p99Error},
				MaxAge:     maxAgeDuration,
			},
			[]string{"transport", "platform", "status"},
		),
		sendCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fanout_transport_send_total",
				Help: "Single-token transport sends.",
			},
			[]string{"transport", "platform", "status"},
		),
		sendCodeCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fanout_transport_errors_total",
				Help: "Failed transport sends by error code.",
			},
			[]string{"transport", "platform", "code"},
		),
	}
	reg.MustRegister(c.sendDuration, c.sendCounter, c.sendCodeCounter)
	return c
}

// Handler exposes the registry for scraping.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Wrap returns t instrumented under the given transport name and platform.
func (c *Collector) Wrap(name string, platform fanout.Platform, t fanout.Transport) *Transport {
	return &Transport{next: t, c: c, name: name, platform: string(platform)}
}

type Transport struct {
	next     fanout.Transport
	c        *Collector
	name     string
	platform string
}

func (t *Transport) Send(ctx context.Context, token string, env fanout.Envelope) (string, error) {
	start := time.Now()
	id, err := t.next.Send(ctx, token, env)
	elapsed := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "failure"
		code, _ := fanout.ErrorDetails(err)
		t.c.sendCodeCounter.WithLabelValues(t.name, t.platform, code).Inc()
	}
	t.c.sendCounter.WithLabelValues(t.name, t.platform, status).Inc()
	t.c.sendDuration.WithLabelValues(t.name, t.platform, status).Observe(elapsed)
	return id, err
}
