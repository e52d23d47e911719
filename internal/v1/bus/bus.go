package bus

import "context"

// MessageBus is spec.md §4.H's uniform contract: local in-process pub/sub,
// or the same interface bridged to Redis when replicated so a message for
// a user connected on a peer node still reaches them.
type MessageBus interface {
	Publish(ctx context.Context, roomID string, event string, payload any, senderID string, roles []string) error
	PublishDirect(ctx context.Context, targetUserID string, event string, payload any, senderID string) error
	Subscribe(ctx context.Context, roomID string, handler func(PubSubPayload))
	SubscribeUser(ctx context.Context, userID string, handler func(PubSubPayload))
	Close() error
}
