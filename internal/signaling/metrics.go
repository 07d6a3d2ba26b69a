package signaling

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/openquill/voxsignal/internal/otel"
)

var (
	channelJoins    metric.Int64Counter
	channelLeaves   metric.Int64Counter
	joinRejections  metric.Int64Counter
	broadcastStarts metric.Int64Counter
	relayedMessages metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("signaling.broker", intotel.PrefixSignaling)

	f.Int64Counter(&channelJoins, "channel.joins",
		metric.WithDescription("Successful first-time channel joins"))

	f.Int64Counter(&channelLeaves, "channel.leaves",
		metric.WithDescription("Channel departures, explicit or cleanup"))

	f.Int64Counter(&joinRejections, "channel.join_rejections",
		metric.WithDescription("Joins rejected (typically capacity)"))

	f.Int64Counter(&broadcastStarts, "broadcast.starts",
		metric.WithDescription("Shared-media broadcasts started"))

	f.Int64Counter(&relayedMessages, "relay.messages",
		metric.WithDescription("SDP and ICE messages relayed point-to-point"))
}
