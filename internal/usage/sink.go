// Package usage implements a write-only usage sink: it records token
// counts per agent run without exposing any read or aggregation queries.
package usage

import (
	"context"

	"github.com/wayne930242/discord-agents/internal/domain"
)

// Sink is the usage sink interface consumed by the Agent Runner Adaptor.
type Sink interface {
	RecordUsage(ctx context.Context, rec domain.UsageRecord) error
}
