package port

import (
	"context"

	"xstream/internal/domain"
)

type Repository interface {
	// Projections
	UpsertTicker(ctx context.Context, t domain.Ticker) error
	InsertTrade(ctx context.Context, t domain.Trade) error
	SaveAccount(ctx context.Context, a domain.Account) error

	// Snapshot operations
	InsertSnapshot(ctx context.Context, ts int64, payload string) error

	// Connection management
	Close() error
}
