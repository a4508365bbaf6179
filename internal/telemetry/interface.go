package telemetry

import (
	"context"

	"github.com/pankha-project/pankha-agent/internal/protocol"
)

// Collector archives pushed telemetry and failsafe transitions locally, so
// thermal history can be reconstructed across disconnected periods.
type Collector interface {
	RecordSnapshot(ctx context.Context, snapshot *protocol.TelemetrySnapshot) error
	RecordFailsafeEvent(ctx context.Context, entered bool, reason string) error
	Close() error
}
