package events

import (
	"context"

	"github.com/rs/zerolog"

	"marketplace-settlement/internal/core/domain"
)

// LogPublisher writes events to the log instead of a broker. Used when
// events.enabled is false.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, events ...domain.SettlementEvent) error {
	for _, evt := range events {
		e := p.log.Info().
			Str("event_id", evt.ID.String()).
			Str("event_type", string(evt.Type)).
			Str("aggregate_id", evt.AggregateID.String())
		if evt.VendorID != nil {
			e = e.Str("vendor_id", evt.VendorID.String())
		}
		if evt.Amount != 0 {
			e = e.Int64("amount", evt.Amount)
		}
		e.Msg("settlement event")
	}
	return nil
}

func (p *LogPublisher) Close() error { return nil }
