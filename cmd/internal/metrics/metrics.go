// Package metrics owns chatline's prometheus collectors.
//
// Collectors are registered on an injected Registerer so tests can use a
// private registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chatline"

// Metrics groups every collector the client exports.
type Metrics struct {
	GatewayRequests *prometheus.CounterVec
	SessionRenewals *prometheus.CounterVec
	WSReconnects    prometheus.Counter
	WSState         prometheus.Gauge
	WSMessages      *prometheus.CounterVec
	PresenceEntries prometheus.Gauge
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "REST calls issued through the gateway, by method and outcome.",
		}, []string{"method", "outcome"}),
		SessionRenewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "renewals_total",
			Help:      "Credential renewal attempts that reached the refresh endpoint, by result.",
		}, []string{"result"}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "reconnects_total",
			Help:      "Reconnection attempts made by the presence channel.",
		}),
		WSState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "state",
			Help:      "Presence channel connection state (0=closed, 1=connecting, 2=open).",
		}),
		WSMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "messages_total",
			Help:      "Presence protocol messages, by direction and type.",
		}, []string{"direction", "type"}),
		PresenceEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "entries",
			Help:      "Users currently held in the presence cache.",
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.GatewayRequests,
		m.SessionRenewals,
		m.WSReconnects,
		m.WSState,
		m.WSMessages,
		m.PresenceEntries,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveRequest counts one gateway call.
func (m *Metrics) ObserveRequest(method, outcome string) {
	if m == nil {
		return
	}
	m.GatewayRequests.WithLabelValues(method, outcome).Inc()
}

// ObserveRenewal counts one refresh attempt.
func (m *Metrics) ObserveRenewal(result string) {
	if m == nil {
		return
	}
	m.SessionRenewals.WithLabelValues(result).Inc()
}

// ObserveReconnect counts one reconnection attempt.
func (m *Metrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.WSReconnects.Inc()
}

// SetConnState records the channel's connection state ordinal.
func (m *Metrics) SetConnState(v int) {
	if m == nil {
		return
	}
	m.WSState.Set(float64(v))
}

// ObserveMessage counts one protocol message.
func (m *Metrics) ObserveMessage(direction, typ string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, typ).Inc()
}

// SetPresenceEntries records the cache size.
func (m *Metrics) SetPresenceEntries(n int) {
	if m == nil {
		return
	}
	m.PresenceEntries.Set(float64(n))
}
