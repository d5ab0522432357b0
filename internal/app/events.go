package app

import (
	"context"
	"time"

	"github.com/petems/holdtosend/internal/transmit"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventStartRecording       EventType = "start-recording"
	EventStopRecording        EventType = "stop-recording"
	EventRecordingError       EventType = "recording-error"
	EventTransmissionComplete EventType = "transmission-complete"
	EventStatusChanged        EventType = "status-changed"
)

// Event is one lifecycle notification. Snapshot is the controller state
// right after the event.
type Event struct {
	Type     EventType        `json:"type"`
	Time     time.Time        `json:"time"`
	Snapshot Snapshot         `json:"snapshot"`
	Message  string           `json:"message,omitempty"`
	Result   *transmit.Result `json:"result,omitempty"`
	Err      error            `json:"-"`
}

const subscriberBuffer = 32

// broadcaster fans events out to subscribers. Slow subscribers lose events
// rather than blocking the controller. Guarded by Controller.mu.
type broadcaster struct {
	next   int
	subs   map[int]chan Event
	closed bool
}

func (b *broadcaster) subscribe(closed bool) (chan Event, int) {
	ch := make(chan Event, subscriberBuffer)
	if closed || b.closed {
		close(ch)
		return ch, -1
	}
	if b.subs == nil {
		b.subs = make(map[int]chan Event)
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	return ch, id
}

func (b *broadcaster) unsubscribe(id int) {
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *broadcaster) publish(ev Event, log zerolog.Logger) {
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Debug().Int("subscriber", id).Str("event", string(ev.Type)).Msg("Dropping event for slow subscriber")
		}
	}
}

func (b *broadcaster) close() {
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.closed = true
}

// LogEvents writes lifecycle events to log until events is closed or ctx
// is done.
func LogEvents(ctx context.Context, log zerolog.Logger, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case EventStatusChanged:
				log.Debug().Str("status", string(ev.Snapshot.Status)).Bool("can_record", ev.Snapshot.CanRecord).Msg("Status")
			case EventRecordingError:
				log.Error().Err(ev.Err).Str("message", ev.Message).Msg("Recording error")
			case EventTransmissionComplete:
				e := log.Info()
				if ev.Result != nil {
					e = e.Int("http_status", ev.Result.HTTPStatus).Bool("success", ev.Result.Success).Str("message", ev.Result.Message)
				}
				e.Msg("Transmission complete")
			default:
				log.Info().Str("event", string(ev.Type)).Msg("Recording event")
			}
		}
	}
}
