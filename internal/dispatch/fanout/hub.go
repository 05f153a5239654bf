package fanout

import (
	"sync"
)

// Message is one outbound item for a connection: either a named event with a
// JSON-encodable payload, or a binary audio frame.
type Message struct {
	Event   string
	Payload any
	Audio   []byte
}

// IsAudio reports whether m carries a binary frame.
func (m Message) IsAudio() bool { return m.Event == "" && m.Audio != nil }

// Event builds a structured message.
func Event(name string, payload any) Message { return Message{Event: name, Payload: payload} }

// Audio builds a binary frame message.
func Audio(frame []byte) Message { return Message{Audio: frame} }

// Sink is the transport side of one connection. Deliver must not block; it
// returns false when the message could not be queued.
type Sink interface {
	ID() string
	Deliver(Message) bool
}

// Hub delivers messages to every connected sink. It holds no business state.
type Hub struct {
	mu    sync.RWMutex
	sinks map[string]Sink
}

func NewHub() *Hub {
	return &Hub{sinks: make(map[string]Sink)}
}

// Add registers sink, replacing any sink with the same id.
func (h *Hub) Add(sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks[sink.ID()] = sink
}

// Remove forgets the sink for connID.
func (h *Hub) Remove(connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sinks[connID]; !ok {
		return false
	}
	delete(h.sinks, connID)
	return true
}

func (h *Hub) BroadcastAll(msg Message) {
	h.BroadcastAllExcept(msg, "")
}

func (h *Hub) BroadcastAllExcept(msg Message, excluded string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, sink := range h.sinks {
		if id == excluded {
			continue
		}
		deliver(sink, msg)
	}
}

// SendTo delivers msg to a single connection. It returns false when the
// connection is unknown or its queue is full.
func (h *Hub) SendTo(connID string, msg Message) bool {
	h.mu.RLock()
	sink, ok := h.sinks[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return deliver(sink, msg)
}

// Connected returns the ids of all registered sinks.
func (h *Hub) Connected() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.sinks))
	for id := range h.sinks {
		ids = append(ids, id)
	}
	return ids
}

func deliver(sink Sink, msg Message) bool {
	if sink.Deliver(msg) {
		deliveredTotal.WithLabelValues(label(msg)).Inc()
		return true
	}
	droppedTotal.WithLabelValues(label(msg)).Inc()
	return false
}

func label(msg Message) string {
	if msg.IsAudio() {
		return "audio"
	}
	return msg.Event
}
