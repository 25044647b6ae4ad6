package streaming

import (
	"context"
	"strconv"
	"sync"

	"safereport/pkg/logger"
)

// EventBus fans report events out to NATS and to in-process subscribers
type EventBus struct {
	nats   *NATSPublisher
	logger *logger.Logger

	mu          sync.RWMutex
	subscribers map[string]*localSubscriber
	nextID      int
}

type localSubscriber struct {
	ch  chan *ReportEvent
	sub *Subscription
}

// NewEventBus creates a new event bus. nats may be nil.
func NewEventBus(nats *NATSPublisher, log *logger.Logger) *EventBus {
	return &EventBus{
		nats:        nats,
		logger:      log.WithComponent("event-bus"),
		subscribers: make(map[string]*localSubscriber),
	}
}

// Publish publishes an event to NATS (when connected) and local subscribers.
// A NATS failure is returned after local delivery.
func (eb *EventBus) Publish(ctx context.Context, event *ReportEvent) error {
	var natsErr error
	if eb.nats != nil && eb.nats.IsConnected() {
		natsErr = eb.nats.Publish(ctx, event)
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for id, s := range eb.subscribers {
		if !s.sub.Matches(event) {
			continue
		}
		select {
		case s.ch <- event:
		default:
			eb.logger.Debug().Str("subscriber", id).Msg("subscriber channel full, dropping event")
		}
	}

	return natsErr
}

// Subscribe registers a local subscriber and returns its channel and an
// unsubscribe function
func (eb *EventBus) Subscribe(sub *Subscription) (<-chan *ReportEvent, func()) {
	eb.mu.Lock()
	eb.nextID++
	id := strconv.Itoa(eb.nextID)
	s := &localSubscriber{ch: make(chan *ReportEvent, 100), sub: sub}
	eb.subscribers[id] = s
	eb.mu.Unlock()

	eb.logger.Debug().Str("subscriber_id", id).Msg("new subscriber")

	unsubscribe := func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		if _, ok := eb.subscribers[id]; ok {
			close(s.ch)
			delete(eb.subscribers, id)
			eb.logger.Debug().Str("subscriber_id", id).Msg("subscriber removed")
		}
	}

	return s.ch, unsubscribe
}

// SubscriberCount returns the number of active subscribers
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

// Close closes all subscribers and the NATS connection
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for id, s := range eb.subscribers {
		close(s.ch)
		delete(eb.subscribers, id)
	}

	if eb.nats != nil {
		eb.nats.Close()
	}
}

// RunAuditLog writes one log line per event until ctx is done
func RunAuditLog(ctx context.Context, eb *EventBus, log *logger.Logger) {
	log = log.WithComponent("audit")
	ch, unsubscribe := eb.Subscribe(nil)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			log.Info().
				Str("event_type", string(event.Type)).
				Str("report_id", event.ReportID).
				Str("status", string(event.Status)).
				Msg("report event")
		}
	}
}
