package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"

	"whisper/internal/domain/model"
	"whisper/internal/domain/ports/adapter"
)

// ---- Fakes ----

// fakeRouter records publishes and exposes the inbound handlers so tests
// can inject overlay traffic.
type fakeRouter struct {
	mu          sync.Mutex
	joined      map[string]adapter.InboundHandler
	published   []model.ChatMessage
	failPublish bool
	destroyed   bool
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{joined: make(map[string]adapter.InboundHandler)}
}

func (f *fakeRouter) JoinRoom(_ context.Context, room string, h adapter.InboundHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.joined[room]; ok {
		return nil
	}
	f.joined[room] = h
	return nil
}

func (f *fakeRouter) LeaveRoom(_ context.Context, room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.joined, room)
	return nil
}

func (f *fakeRouter) SendMessage(_ context.Context, _ string, m model.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPublish {
		return errors.New("overlay unreachable")
	}
	f.published = append(f.published, m)
	return nil
}

func (f *fakeRouter) SubscribedRooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	rooms := make([]string, 0, len(f.joined))
	for room := range f.joined {
		rooms = append(rooms, room)
	}
	return rooms
}

func (f *fakeRouter) RoomPeers(string) []string { return nil }

func (f *fakeRouter) Destroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = true
	f.joined = make(map[string]adapter.InboundHandler)
	return nil
}

func (f *fakeRouter) handlerFor(room string) adapter.InboundHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joined[room]
}

func (f *fakeRouter) publishedOfType(t model.MessageType) []model.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ChatMessage
	for _, m := range f.published {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// uiRecorder captures everything a session pushes at its UI callbacks.
type uiRecorder struct {
	mu          sync.Mutex
	messages    []model.ChatMessage
	system      []string
	userLists   [][]model.UserInfo
	roomChanges []string
	disconnects int
	clears      int
}

func (r *uiRecorder) callbacks() SessionCallbacks {
	return SessionCallbacks{
		OnMessage: func(m model.ChatMessage) {
			r.mu.Lock()
			r.messages = append(r.messages, m)
			r.mu.Unlock()
		},
		OnSystemMessage: func(text string) {
			r.mu.Lock()
			r.system = append(r.system, text)
			r.mu.Unlock()
		},
		OnUserListUpdate: func(users []model.UserInfo) {
			r.mu.Lock()
			r.userLists = append(r.userLists, users)
			r.mu.Unlock()
		},
		OnRoomChange: func(room string) {
			r.mu.Lock()
			r.roomChanges = append(r.roomChanges, room)
			r.mu.Unlock()
		},
		OnDisconnect: func() {
			r.mu.Lock()
			r.disconnects++
			r.mu.Unlock()
		},
		OnClear: func() {
			r.mu.Lock()
			r.clears++
			r.mu.Unlock()
		},
	}
}

func (r *uiRecorder) messageCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.messages {
		if m.ID == id {
			n++
		}
	}
	return n
}

func (r *uiRecorder) hasSystem(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.system {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func (r *uiRecorder) systemCount(substr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.system {
		if strings.Contains(s, substr) {
			n++
		}
	}
	return n
}

func (r *uiRecorder) lastUserList() []model.UserInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.userLists) == 0 {
		return nil
	}
	return r.userLists[len(r.userLists)-1]
}
