package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/botforge/streamgate/internal/domain"
	"github.com/botforge/streamgate/internal/metrics"
)

const intakeQueueSize = 256

// Dispatcher is the single consumer of raw events. Intake is a bounded
// queue so transports hand off without blocking; the run loop applies
// dedup, persists, and publishes in order of arrival.
type Dispatcher struct {
	dedup       domain.DedupStore
	events      domain.EventRepository
	bus         domain.EventBus
	dedupWindow time.Duration

	intake chan domain.RawEvent
}

func NewDispatcher(dedup domain.DedupStore, events domain.EventRepository, bus domain.EventBus, dedupWindow time.Duration) *Dispatcher {
	return &Dispatcher{
		dedup:       dedup,
		events:      events,
		bus:         bus,
		dedupWindow: dedupWindow,
		intake:      make(chan domain.RawEvent, intakeQueueSize),
	}
}

// Offer enqueues a raw event without blocking. False means the intake
// queue was full and the event was shed.
func (d *Dispatcher) Offer(evt domain.RawEvent) bool {
	select {
	case d.intake <- evt:
		return true
	default:
		metrics.BusDroppedTotal.WithLabelValues("intake").Inc()
		return false
	}
}

// Run consumes the intake queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-d.intake:
			d.process(ctx, evt)
		}
	}
}

// process applies the pipeline to one event. A dedup store outage fails
// open: delivering a duplicate beats silently losing an event.
func (d *Dispatcher) process(ctx context.Context, evt domain.RawEvent) {
	firstSeen, err := d.dedup.MarkSeen(ctx, evt.DedupKey, d.dedupWindow)
	if err != nil {
		slog.Warn("Dedup store unavailable, processing without dedup",
			"dedup_key", evt.DedupKey, "error", err)
		firstSeen = true
	}
	if !firstSeen {
		metrics.EventsDedupedTotal.Inc()
		slog.Debug("Dropping duplicate event", "dedup_key", evt.DedupKey, "source", evt.Source)
		return
	}

	if err := d.events.Insert(ctx, &evt); err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			// The durable record is the second line of defense.
			metrics.EventsDedupedTotal.Inc()
			return
		}
		// Persistence failure does not block delivery to subscribers.
		slog.Error("Failed to persist event", "dedup_key", evt.DedupKey, "error", err)
	}

	metrics.EventsIngestedTotal.WithLabelValues(evt.Source).Inc()
	d.bus.Publish(domain.Event{
		Type:       evt.Type,
		Payload:    evt.Payload,
		ReceivedAt: evt.ReceivedAt,
	})
}
