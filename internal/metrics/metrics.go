// Package metrics holds the Prometheus collectors shared by the hub, the
// supervisors and the credential stores. They register on the default
// registry and are exposed by the server at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublished counts events fanned out by the hub
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multichat_events_published_total",
		Help: "Normalized chat events published to subscribers",
	}, []string{"platform"})

	// EventsRejected counts events the hub refused to publish
	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multichat_events_rejected_total",
		Help: "Chat events dropped because they failed validation",
	}, []string{"platform"})

	// Reconnects counts supervised restarts per platform
	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multichat_adapter_reconnects_total",
		Help: "Adapter restarts after a lost connection",
	}, []string{"platform"})

	// AuthFailures counts sessions that ended because the platform rejected
	// the access token
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multichat_auth_failures_total",
		Help: "Adapter sessions ended by a rejected access token",
	}, []string{"platform"})

	// TokenRefreshes counts refresh exchanges per platform and result
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multichat_token_refreshes_total",
		Help: "OAuth refresh-token exchanges",
	}, []string{"platform", "result"})

	// DeliveriesDropped counts events a slow subscriber missed
	DeliveriesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "multichat_deliveries_dropped_total",
		Help: "Events dropped because a subscriber outbox was full",
	})

	// Subscribers tracks currently connected subscribers
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "multichat_subscribers",
		Help: "Currently connected event subscribers",
	})
)
