// File: internal/usecase/directory.go
package usecase

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"whisper/internal/domain/model"
)

// DirectoryEvents is one subscriber's set of callbacks. Nil entries are
// skipped. Callbacks run outside the directory lock, after the mutation
// they describe has been committed; they may call back into read-only
// directory operations but must not mutate it.
type DirectoryEvents struct {
	OnMessage   func(m model.ChatMessage)
	OnUserJoin  func(u model.UserInfo)
	OnUserLeave func(u model.UserInfo)
	OnUserNick  func(u model.UserInfo, oldNick string)
	OnUserRoom  func(u model.UserInfo, oldRoom string)
}

// Directory is the process-wide authority on who is connected, which room
// they are in, and each room's bounded message history. It is the sole
// writer of its own maps; sessions mutate it only through these methods.
type Directory struct {
	mu         sync.Mutex
	maxPerRoom int
	users      map[string]model.UserInfo
	rooms      map[string]*model.BoundedBuffer[model.ChatMessage]
	listeners  map[int]DirectoryEvents
	nextID     int
	log        zerolog.Logger
}

func NewDirectory(maxMessagesPerRoom int, log zerolog.Logger) *Directory {
	if maxMessagesPerRoom <= 0 {
		maxMessagesPerRoom = 100
	}
	return &Directory{
		maxPerRoom: maxMessagesPerRoom,
		users:      make(map[string]model.UserInfo),
		rooms:      make(map[string]*model.BoundedBuffer[model.ChatMessage]),
		listeners:  make(map[int]DirectoryEvents),
		log:        log.With().Str("component", "directory").Logger(),
	}
}

// Subscribe registers a listener and returns its id for Unsubscribe.
func (d *Directory) Subscribe(ev DirectoryEvents) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = ev
	return id
}

func (d *Directory) Unsubscribe(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.listeners, id)
}

func (d *Directory) snapshotListeners() []DirectoryEvents {
	out := make([]DirectoryEvents, 0, len(d.listeners))
	for _, ev := range d.listeners {
		out = append(out, ev)
	}
	return out
}

// AddUser registers a user. When the requested nick is already taken in
// the room (case-insensitive) a numeric suffix is appended so that the
// directory never holds two equal nicks in one room.
func (d *Directory) AddUser(sessionID, nick, fingerprint, room string, joinedAt int64) model.UserInfo {
	d.mu.Lock()
	base := nick
	for i := 2; d.nickTakenLocked(nick, room, sessionID); i++ {
		nick = fmt.Sprintf("%s%d", base, i)
	}
	u := model.UserInfo{
		SessionID:   sessionID,
		Nick:        nick,
		Fingerprint: fingerprint,
		Room:        room,
		JoinedAt:    joinedAt,
	}
	d.users[sessionID] = u
	subs := d.snapshotListeners()
	d.mu.Unlock()

	d.log.Debug().Str("session_id", sessionID).Str("nick", nick).Str("room", room).Msg("user added")
	for _, ev := range subs {
		if ev.OnUserJoin != nil {
			ev.OnUserJoin(u)
		}
	}
	return u
}

// RemoveUser deletes the user if present and returns the removed record.
func (d *Directory) RemoveUser(sessionID string) (model.UserInfo, bool) {
	d.mu.Lock()
	u, ok := d.users[sessionID]
	if ok {
		delete(d.users, sessionID)
	}
	subs := d.snapshotListeners()
	d.mu.Unlock()

	if !ok {
		return model.UserInfo{}, false
	}
	d.log.Debug().Str("session_id", sessionID).Msg("user removed")
	for _, ev := range subs {
		if ev.OnUserLeave != nil {
			ev.OnUserLeave(u)
		}
	}
	return u, true
}

// SetNick updates the user's nick in place. Uniqueness is the caller's
// responsibility (sessions check IsNickTaken first).
func (d *Directory) SetNick(sessionID, newNick string) bool {
	d.mu.Lock()
	u, ok := d.users[sessionID]
	if !ok {
		d.mu.Unlock()
		return false
	}
	oldNick := u.Nick
	u.Nick = newNick
	d.users[sessionID] = u
	subs := d.snapshotListeners()
	d.mu.Unlock()

	for _, ev := range subs {
		if ev.OnUserNick != nil {
			ev.OnUserNick(u, oldNick)
		}
	}
	return true
}

// SetRoom updates the user's room in place.
func (d *Directory) SetRoom(sessionID, newRoom string) bool {
	d.mu.Lock()
	u, ok := d.users[sessionID]
	if !ok {
		d.mu.Unlock()
		return false
	}
	oldRoom := u.Room
	u.Room = newRoom
	d.users[sessionID] = u
	subs := d.snapshotListeners()
	d.mu.Unlock()

	for _, ev := range subs {
		if ev.OnUserRoom != nil {
			ev.OnUserRoom(u, oldRoom)
		}
	}
	return true
}

func (d *Directory) GetUser(sessionID string) (model.UserInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[sessionID]
	return u, ok
}

// GetUserByFingerprint returns the first user carrying the fingerprint.
// Fingerprints are not unique; this is a display-level lookup only.
func (d *Directory) GetUserByFingerprint(fp string) (model.UserInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if u.Fingerprint == fp {
			return u, true
		}
	}
	return model.UserInfo{}, false
}

// UsersInRoom returns a snapshot of the room's occupants sorted by nick.
func (d *Directory) UsersInRoom(room string) []model.UserInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.UserInfo
	for _, u := range d.users {
		if u.Room == room {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nick < out[j].Nick })
	return out
}

// KnownRooms is the union of occupied rooms and rooms with history, sorted.
func (d *Directory) KnownRooms() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen := make(map[string]struct{})
	for _, u := range d.users {
		seen[u.Room] = struct{}{}
	}
	for room, buf := range d.rooms {
		if buf.Len() > 0 {
			seen[room] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for room := range seen {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

func (d *Directory) UserCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.users)
}

// AddMessage appends to the room's bounded history, creating it lazily.
// Listeners observe the message only after it is in the buffer. A message
// whose ID is already in the room's history is dropped: every session in
// a room installs an inbound overlay handler on the shared node, so the
// same wire message can be offered more than once.
func (d *Directory) AddMessage(m model.ChatMessage) bool {
	d.mu.Lock()
	buf, ok := d.rooms[m.Room]
	if !ok {
		buf = model.NewBoundedBuffer[model.ChatMessage](d.maxPerRoom)
		d.rooms[m.Room] = buf
	}
	for _, prev := range buf.GetAll() {
		if prev.ID == m.ID {
			d.mu.Unlock()
			return false
		}
	}
	buf.Push(m)
	subs := d.snapshotListeners()
	d.mu.Unlock()

	for _, ev := range subs {
		if ev.OnMessage != nil {
			ev.OnMessage(m)
		}
	}
	return true
}

// RecentMessages returns a snapshot of the room's most recent count
// messages (all of them when count <= 0), empty for unknown rooms.
func (d *Directory) RecentMessages(room string, count int) []model.ChatMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.rooms[room]
	if !ok {
		return []model.ChatMessage{}
	}
	if count <= 0 {
		return buf.GetAll()
	}
	return buf.GetLast(count)
}

// IsNickTaken reports whether another user in the room already holds the
// nick, case-insensitively. excludeSessionID lets a user re-assert its
// own nick without tripping the check.
func (d *Directory) IsNickTaken(nick, room, excludeSessionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nickTakenLocked(nick, room, excludeSessionID)
}

func (d *Directory) nickTakenLocked(nick, room, excludeSessionID string) bool {
	for _, u := range d.users {
		if u.SessionID == excludeSessionID {
			continue
		}
		if u.Room == room && strings.EqualFold(u.Nick, nick) {
			return true
		}
	}
	return false
}
