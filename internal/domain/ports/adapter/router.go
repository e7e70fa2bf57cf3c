// File: internal/domain/ports/adapter/router.go
package adapter

import (
	"context"

	"whisper/internal/domain/model"
)

// InboundHandler receives messages arriving from the overlay for a room
// this view is subscribed to, in arrival order.
type InboundHandler func(m model.ChatMessage)

// RoomRouter is one session's view of the room pub/sub fabric. Topic
// naming, transport encryption and gossip mechanics live behind it.
type RoomRouter interface {
	// JoinRoom subscribes the view to a room. Joining a room the view is
	// already subscribed to is a warned no-op.
	JoinRoom(ctx context.Context, room string, handler InboundHandler) error

	// LeaveRoom drops the subscription. Idempotent.
	LeaveRoom(ctx context.Context, room string) error

	// SendMessage publishes a message to the room's topic. Publishing
	// into a topic with no remote subscribers is success, not an error.
	SendMessage(ctx context.Context, room string, m model.ChatMessage) error

	// SubscribedRooms lists the rooms this view is subscribed to.
	SubscribedRooms() []string

	// RoomPeers is the overlay's current view of remote subscribers for
	// the room's topic.
	RoomPeers(room string) []string

	// Destroy unsubscribes from every room and releases the view.
	Destroy() error
}
