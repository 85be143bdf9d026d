package account

import (
	"context"

	"github.com/FACorreiaa/go-credentials-api/internal/types"
)

// EventPublisher announces committed account changes to other services.
type EventPublisher interface {
	Publish(ctx context.Context, event types.AccountEvent) error
}

// NoopPublisher drops every event. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, types.AccountEvent) error { return nil }
