package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/yummyio/yummy/internal/v1/metrics"
)

func marshalPayload(payload any) (json.RawMessage, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// Local is the in-process MessageBus of spec.md §4.H: a typed publish/
// subscribe broker keyed by message class (here, room ID or target user
// ID), used when no replicated backend is configured. Ordering is
// guaranteed per (publisher, topic) because each topic's subscribers are
// invoked synchronously, in registration order, from Publish's goroutine.
type Local struct {
	mu       sync.RWMutex
	roomSubs map[string][]func(PubSubPayload)
}

// NewLocal builds an empty in-process bus.
func NewLocal() *Local {
	return &Local{roomSubs: make(map[string][]func(PubSubPayload))}
}

func (l *Local) Publish(_ context.Context, roomID string, event string, payload any, senderID string, roles []string) error {
	l.deliver(roomID, PubSubPayload{RoomID: roomID, Event: event, SenderID: senderID, Roles: roles}, payload)
	return nil
}

func (l *Local) PublishDirect(_ context.Context, targetUserID string, event string, payload any, senderID string) error {
	l.deliver(userTopic(targetUserID), PubSubPayload{Event: event, SenderID: senderID}, payload)
	return nil
}

func (l *Local) deliver(topic string, envelope PubSubPayload, payload any) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return
	}
	envelope.Payload = raw

	l.mu.RLock()
	handlers := append([]func(PubSubPayload){}, l.roomSubs[topic]...)
	l.mu.RUnlock()

	metrics.BusPublished.WithLabelValues(topic).Inc()
	for _, h := range handlers {
		h(envelope)
	}
}

// Subscribe registers handler for roomID's topic. Unlike the Redis-backed
// bus, no background goroutine is started: delivery is synchronous.
func (l *Local) Subscribe(_ context.Context, roomID string, handler func(PubSubPayload)) {
	l.mu.Lock()
	l.roomSubs[roomID] = append(l.roomSubs[roomID], wrapHandler(roomID, handler))
	l.mu.Unlock()
}

// SubscribeUser registers handler for direct messages addressed to userID,
// the ConnectionCoordinator's per-user inbox (spec.md §4.D).
func (l *Local) SubscribeUser(_ context.Context, userID string, handler func(PubSubPayload)) {
	topic := userTopic(userID)
	l.mu.Lock()
	l.roomSubs[topic] = append(l.roomSubs[topic], wrapHandler(topic, handler))
	l.mu.Unlock()
}

func wrapHandler(topic string, handler func(PubSubPayload)) func(PubSubPayload) {
	return func(p PubSubPayload) {
		metrics.BusReceived.WithLabelValues(topic).Inc()
		handler(p)
	}
}

func (l *Local) Close() error { return nil }

func userTopic(userID string) string { return "user:" + userID }
