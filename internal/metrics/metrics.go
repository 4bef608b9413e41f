// Package metrics exposes the Prometheus collectors SPEC_FULL.md §2 names
// for: live connection count, messages sent, and delivery-queue depth. The
// counters are package-level so any package can record against them
// without threading a collector handle through every call site, mirroring
// how prometheus/client_golang's default registry is normally used.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections is the number of live WebSocket sockets on this node.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatcore",
		Subsystem: "realtime",
		Name:      "active_connections",
		Help:      "Number of currently open WebSocket connections on this node.",
	})

	// MessagesSentTotal counts messages successfully persisted via Send.
	MessagesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatcore",
		Subsystem: "coordinator",
		Name:      "messages_sent_total",
		Help:      "Total number of messages successfully sent.",
	})

	// DeliveryQueueDepth is the approximate number of entries pending on the
	// durable delivery stream, sampled by cmd/server on a ticker rather than
	// updated per-enqueue, since XLEN is a single fast call.
	DeliveryQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatcore",
		Subsystem: "delivery",
		Name:      "queue_depth",
		Help:      "Approximate number of entries on the delivery stream awaiting acknowledgment.",
	})

	// DeliveryDeadLettered counts units moved to the dead-letter stream after
	// exhausting their retry budget.
	DeliveryDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatcore",
		Subsystem: "delivery",
		Name:      "dead_lettered_total",
		Help:      "Total number of delivery units moved to the dead-letter stream.",
	})

	// PresenceOnlineUsers is the size of the fleet-wide online set, sampled
	// alongside the queue depth.
	PresenceOnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatcore",
		Subsystem: "presence",
		Name:      "online_users",
		Help:      "Number of users currently marked online fleet-wide.",
	})
)
