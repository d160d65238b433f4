package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"nhblease/core/types"
	"nhblease/observability"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 64
)

// StreamEvent is one committed event as pushed to websocket subscribers.
type StreamEvent struct {
	Height     uint64            `json:"height"`
	Type       string            `json:"type"`
	Lease      string            `json:"lease,omitempty"`
	Attributes map[string]string `json:"attributes"`
}

type subscriber struct {
	lease string
	ch    chan StreamEvent
}

// Broker fans committed events out to live subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type Broker struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscriber
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[uint64]*subscriber)}
}

// Publish has the signature of a commit hook.
func (b *Broker) Publish(height uint64, events []types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range events {
		ev := StreamEvent{Height: height, Type: e.Type, Lease: e.Attributes["id"], Attributes: e.Attributes}
		for _, sub := range b.subs {
			if sub.lease != "" && sub.lease != ev.Lease {
				continue
			}
			select {
			case sub.ch <- ev:
			default:
				observability.ModuleMetrics().RecordThrottle("stream", "slow_subscriber")
			}
		}
	}
}

// Subscribe registers a subscriber to the events of lease, or of every
// contract when lease is empty. cancel must be called once done.
func (b *Broker) Subscribe(lease string) (<-chan StreamEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{lease: lease, ch: make(chan StreamEvent, subscriberBuffer)}
	b.subs[id] = sub
	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	lease := strings.TrimSpace(r.URL.Query().Get("lease"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	// the stream is write only; CloseRead handles pings and the peer's close
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, lease); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, lease string) error {
	events, cancel := s.broker.Subscribe(lease)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			if err := writeEvent(ctx, conn, ev); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
