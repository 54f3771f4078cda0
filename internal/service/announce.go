package service

import (
	"context"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/rs/zerolog"
)

// announcer publishes committed ledger entries. Publishing is best-effort: the
// ledger row is the record, the event is a notification.
type announcer struct {
	publisher ports.EventPublisher
	metrics   ports.Metrics
	log       zerolog.Logger
}

func (a announcer) entries(ctx context.Context, entries ...*domain.LedgerEntry) {
	for _, e := range entries {
		if e == nil {
			continue
		}
		a.metrics.EntryRecorded(e.Kind, e.Currency)

		key := domain.EventLedgerEntryRecorded
		if e.ReversalOf != nil {
			key = domain.EventLedgerEntryReversed
		}
		a.publish(ctx, key, domain.NewLedgerEvent(e))
	}
}

func (a announcer) publish(ctx context.Context, routingKey string, body interface{}) {
	if err := a.publisher.Publish(ctx, routingKey, body); err != nil {
		a.log.Warn().Err(err).Str("routing_key", routingKey).Msg("event publish failed")
	}
}
