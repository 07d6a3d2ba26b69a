package monitor

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/openquill/voxsignal/internal/otel"
)

var (
	userJoins        metric.Int64Counter
	activeUsers      metric.Int64UpDownCounter
	connectionIssues metric.Int64Counter

	sweepRuns      metric.Int64Counter
	sweepEvictions metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("voice.monitor", intotel.PrefixMonitor)

	f.Int64Counter(&userJoins, "user.joins",
		metric.WithDescription("Total channel joins recorded"))

	f.Int64UpDownCounter(&activeUsers, "users.active",
		metric.WithDescription("Users currently tracked across channels"))

	f.Int64Counter(&connectionIssues, "connection.issues",
		metric.WithDescription("Connection issues recorded"))

	f.Int64Counter(&sweepRuns, "sweep.runs",
		metric.WithDescription("Stale-stats sweep cycles executed"))

	f.Int64Counter(&sweepEvictions, "sweep.evictions",
		metric.WithDescription("Channel stat entries evicted by sweeps"))
}
