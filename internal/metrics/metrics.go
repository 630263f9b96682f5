// Package metrics exposes Prometheus collectors for the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector groups the relay's Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	ConnectedPeers    prometheus.Gauge
	Connections       prometheus.Counter
	Disconnections    *prometheus.CounterVec
	MessagesReceived  prometheus.Counter
	MessagesDelivered prometheus.Counter
	SendFailures      prometheus.Counter
	MessagesDropped   *prometheus.CounterVec
}

// NewCollector creates a Collector registered on its own registry, along
// with the standard Go runtime and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		ConnectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_connected_peers",
			Help: "Number of connections currently in the peer set",
		}),
		Connections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_connections_total",
			Help: "Total number of accepted connections",
		}),
		Disconnections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_disconnections_total",
				Help: "Total number of connections removed from the peer set",
			},
			[]string{"reason"},
		),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_received_total",
			Help: "Total number of messages accepted for fanout",
		}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_delivered_total",
			Help: "Total number of per-peer deliveries enqueued",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_send_failures_total",
			Help: "Total number of per-peer deliveries skipped because the peer could not accept them",
		}),
		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_messages_dropped_total",
				Help: "Total number of inbound messages dropped without fanout",
			},
			[]string{"reason"},
		),
	}

	c.registry.MustRegister(
		c.ConnectedPeers,
		c.Connections,
		c.Disconnections,
		c.MessagesReceived,
		c.MessagesDelivered,
		c.SendFailures,
		c.MessagesDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry returns the registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler serving the metrics in exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
