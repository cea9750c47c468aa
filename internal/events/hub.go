package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/message"
	"github.com/kode4food/caravan/topic"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/log"
)

// Hub fans engine events out to any number of consumers
type Hub struct {
	topic  topic.Topic[*api.Event]
	prod   topic.Producer[*api.Event]
	mu     sync.Mutex
	closed bool
}

// NewHub creates an open event hub
func NewHub() *Hub {
	t := caravan.NewTopic[*api.Event]()
	return &Hub{
		topic: t,
		prod:  t.NewProducer(),
	}
}

// Publish sends an event to every consumer. Events published after Close
// are dropped
func (h *Hub) Publish(ev *api.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	message.Send(h.prod, ev)
}

// NewConsumer subscribes to events published from now on
func (h *Hub) NewConsumer() topic.Consumer[*api.Event] {
	return h.topic.NewConsumer()
}

// Close stops the hub from accepting further events
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.prod.Close()
	return nil
}

// Raise wraps a typed payload in an event and publishes it
func Raise[E any](h *Hub, typ api.EventType, data E, now time.Time) {
	ev, err := api.NewEvent(typ, data, now)
	if err != nil {
		slog.Error("Failed to encode event",
			slog.String("event_type", string(typ)),
			log.Error(err))
		return
	}
	h.Publish(ev)
}
