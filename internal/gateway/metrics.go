package gateway

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/openquill/voxsignal/internal/otel"
)

var (
	connectionsActive metric.Int64UpDownCounter
	eventsReceived    metric.Int64Counter
	eventsSent        metric.Int64Counter
	eventErrors       metric.Int64Counter
	rateLimited       metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("event.gateway", intotel.PrefixGateway)

	f.Int64UpDownCounter(&connectionsActive, "connections.active",
		metric.WithDescription("WebSocket connections currently open"))

	f.Int64Counter(&eventsReceived, "events.received",
		metric.WithDescription("Client events read off the wire"))

	f.Int64Counter(&eventsSent, "events.sent",
		metric.WithDescription("Events queued for delivery to clients"))

	f.Int64Counter(&eventErrors, "events.errors",
		metric.WithDescription("Client events rejected by validation or dispatch"))

	f.Int64Counter(&rateLimited, "events.rate_limited",
		metric.WithDescription("Client events dropped by the per-connection limiter"))
}
