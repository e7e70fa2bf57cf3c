// File: internal/infra/p2p/router.go
package p2p

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"whisper/internal/domain"
	"whisper/internal/domain/model"
	"whisper/internal/domain/ports/adapter"
)

// Router is one session's view of the shared overlay node. It tracks
// which rooms this session is subscribed to and releases them all on
// Destroy, so a crashed or disconnected session never leaks a topic
// handler.
type Router struct {
	node *Node
	log  zerolog.Logger

	mu        sync.Mutex
	releases  map[string]func()
	destroyed bool
}

var _ adapter.RoomRouter = (*Router)(nil)

func NewRouter(node *Node, log zerolog.Logger) *Router {
	return &Router{
		node:     node,
		log:      log.With().Str("component", "router").Logger(),
		releases: make(map[string]func()),
	}
}

func (r *Router) JoinRoom(_ context.Context, room string, handler adapter.InboundHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return fmt.Errorf("join room: %w", domain.ErrNotConnected)
	}
	if _, ok := r.releases[room]; ok {
		r.log.Warn().Str("room", room).Msg("already subscribed, ignoring join")
		return nil
	}
	release, err := r.node.Subscribe(room, handler)
	if err != nil {
		return err
	}
	r.releases[room] = release
	return nil
}

func (r *Router) LeaveRoom(_ context.Context, room string) error {
	r.mu.Lock()
	release, ok := r.releases[room]
	if ok {
		delete(r.releases, room)
	}
	r.mu.Unlock()
	if ok {
		release()
	}
	return nil
}

func (r *Router) SendMessage(ctx context.Context, room string, m model.ChatMessage) error {
	r.mu.Lock()
	destroyed := r.destroyed
	r.mu.Unlock()
	if destroyed {
		return fmt.Errorf("send: %w", domain.ErrNotConnected)
	}
	return r.node.Publish(ctx, room, m)
}

func (r *Router) SubscribedRooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.releases))
	for room := range r.releases {
		out = append(out, room)
	}
	return out
}

func (r *Router) RoomPeers(room string) []string {
	return r.node.TopicPeers(room)
}

// Destroy releases every subscription held by this view. Idempotent.
func (r *Router) Destroy() error {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return nil
	}
	r.destroyed = true
	releases := make([]func(), 0, len(r.releases))
	for _, release := range r.releases {
		releases = append(releases, release)
	}
	r.releases = make(map[string]func())
	r.mu.Unlock()

	for _, release := range releases {
		release()
	}
	return nil
}
