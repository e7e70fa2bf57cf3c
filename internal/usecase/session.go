// File: internal/usecase/session.go
package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"whisper/internal/domain/model"
	"whisper/internal/domain/ports/adapter"
	"whisper/internal/infra/metrics"
)

// SessionCallbacks is the UI surface of a session. The SSH/terminal layer
// supplies these; the session never touches the transport directly.
type SessionCallbacks struct {
	OnMessage        func(m model.ChatMessage)
	OnSystemMessage  func(text string)
	OnUserListUpdate func(users []model.UserInfo)
	OnRoomChange     func(room string)
	OnDisconnect     func()
	OnClear          func()
}

// SessionConfig carries the per-session limits from the process config.
type SessionConfig struct {
	DefaultRoom    string
	MaxMessageSize int
	RateLimit      int
	HistoryReplay  int // messages replayed on room join; <= 0 means all
}

// Session is the per-user state machine binding one connected user's
// identity, nick, room, rate limiter, directory membership and router
// view. Public operations are serialized by opMu: one in-flight input
// line at a time, suspending at overlay I/O.
type Session struct {
	id          string
	fingerprint string

	opMu sync.Mutex

	// stateMu guards nick, room and connected, which directory listeners
	// read from overlay goroutines while opMu is held elsewhere.
	stateMu   sync.RWMutex
	nick      string
	room      string
	connected bool

	cfg      SessionConfig
	dir      *Directory
	router   adapter.RoomRouter
	limiter  *model.RateLimiter
	cb       SessionCallbacks
	log      zerolog.Logger
	listener int
}

// NewSession derives the session identity from the ephemeral public key:
// the fingerprint is the user-visible identity, the default nick its
// first six characters.
func NewSession(publicKey []byte, dir *Directory, router adapter.RoomRouter, cfg SessionConfig, cb SessionCallbacks, log zerolog.Logger) *Session {
	fp := model.Fingerprint(publicKey)
	id := ulid.Make().String()
	if cfg.DefaultRoom == "" {
		cfg.DefaultRoom = "lobby"
	}
	return &Session{
		id:          id,
		fingerprint: fp,
		nick:        "anon_" + strings.ToLower(fp[:6]),
		room:        cfg.DefaultRoom,
		cfg:         cfg,
		dir:         dir,
		router:      router,
		limiter:     model.NewRateLimiter(cfg.RateLimit),
		cb:          cb,
		log:         log.With().Str("session_id", id).Str("fingerprint", fp).Logger(),
	}
}

func (s *Session) ID() string          { return s.id }
func (s *Session) Fingerprint() string { return s.fingerprint }

func (s *Session) Nick() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.nick
}

func (s *Session) Room() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.room
}

// Connected reports whether the session is live; the transport uses it
// to end its input loop after /quit.
func (s *Session) Connected() bool { return s.isConnected() }

func (s *Session) isConnected() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.connected
}

// Start registers the user, attaches directory listeners, joins the
// default room and greets the user.
func (s *Session) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	u := s.dir.AddUser(s.id, s.Nick(), s.fingerprint, s.Room(), time.Now().UnixMilli())
	s.stateMu.Lock()
	s.nick = u.Nick // the directory may have disambiguated it
	s.stateMu.Unlock()

	s.listener = s.dir.Subscribe(DirectoryEvents{
		OnMessage:   s.onDirectoryMessage,
		OnUserJoin:  func(u model.UserInfo) { s.onRoster(u.Room) },
		OnUserLeave: func(u model.UserInfo) { s.onRoster(u.Room) },
		OnUserNick:  func(u model.UserInfo, _ string) { s.onRoster(u.Room) },
		OnUserRoom:  func(u model.UserInfo, oldRoom string) { s.onRoster(u.Room); s.onRoster(oldRoom) },
	})

	if err := s.joinRoomLocked(ctx, s.Room()); err != nil {
		return fmt.Errorf("join default room: %w", err)
	}

	s.stateMu.Lock()
	s.connected = true
	s.stateMu.Unlock()
	metrics.SessionStarted()

	s.system(fmt.Sprintf("Welcome to Whisper, %s!", s.Nick()))
	s.system(fmt.Sprintf("Your fingerprint is %s. It changes every connection.", s.fingerprint))
	s.system("Type /help for available commands.")
	s.log.Info().Str("nick", s.Nick()).Str("room", s.Room()).Msg("session started")
	return nil
}

// onDirectoryMessage is the fan-out path for messages sent by other
// users, both local sessions and overlay peers. The session's own
// messages are echoed directly by the send path and filtered here.
func (s *Session) onDirectoryMessage(m model.ChatMessage) {
	s.stateMu.RLock()
	room, fp, connected := s.room, s.fingerprint, s.connected
	s.stateMu.RUnlock()
	if !connected || m.Room != room || m.Fingerprint == fp {
		return
	}
	if s.cb.OnMessage != nil {
		s.cb.OnMessage(m)
	}
}

// onRoster refreshes the user list when membership of the current room
// changes.
func (s *Session) onRoster(room string) {
	s.stateMu.RLock()
	current, connected := s.room, s.connected
	s.stateMu.RUnlock()
	if !connected || room != current {
		return
	}
	if s.cb.OnUserListUpdate != nil {
		s.cb.OnUserListUpdate(s.dir.UsersInRoom(current))
	}
}

// HandleInput consumes one line of user input: empty lines are dropped,
// slash commands go to the command processor, everything else is a text
// message.
func (s *Session) HandleInput(ctx context.Context, proc *CommandProcessor, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if strings.HasPrefix(line, "/") {
		proc.Handle(ctx, s, line)
		return
	}
	s.SendMessage(ctx, line)
}

// SendMessage publishes a text message: rate limit, then size check, then
// publish, then local echo and history. Publish failure surfaces a system
// notice and skips the echo.
func (s *Session) SendMessage(ctx context.Context, text string) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if !s.isConnected() {
		s.system("Not connected.")
		return
	}
	if !s.limiter.Record() {
		metrics.RateLimited()
		s.system("Rate limit exceeded. Please slow down.")
		return
	}
	if !model.ContentSizeOK(text, s.cfg.MaxMessageSize) {
		s.system(fmt.Sprintf("Message too large (max %d bytes).", s.cfg.MaxMessageSize))
		return
	}
	m := model.NewTextMessage(s.Room(), s.Nick(), s.fingerprint, text)
	if err := s.router.SendMessage(ctx, m.Room, m); err != nil {
		metrics.PublishError()
		s.log.Error().Err(err).Str("room", m.Room).Msg("publish failed")
		s.system("Failed to send message.")
		return
	}
	metrics.MessageSent(string(m.Type))
	if s.cb.OnMessage != nil {
		s.cb.OnMessage(m)
	}
	s.dir.AddMessage(m)
}

// SendAction publishes a /me action. Actions are not size-checked.
func (s *Session) SendAction(ctx context.Context, action string) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if !s.isConnected() {
		s.system("Not connected.")
		return
	}
	if !s.limiter.Record() {
		metrics.RateLimited()
		s.system("Rate limit exceeded. Please slow down.")
		return
	}
	m := model.NewActionMessage(s.Room(), s.Nick(), s.fingerprint, action)
	if err := s.router.SendMessage(ctx, m.Room, m); err != nil {
		metrics.PublishError()
		s.log.Error().Err(err).Str("room", m.Room).Msg("publish failed")
		s.system("Failed to send message.")
		return
	}
	metrics.MessageSent(string(m.Type))
	if s.cb.OnMessage != nil {
		s.cb.OnMessage(m)
	}
	s.dir.AddMessage(m)
}

// ChangeNick renames the user. The local rename is not rolled back when
// the nick announcement fails to publish.
func (s *Session) ChangeNick(ctx context.Context, newNick string) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if !s.isConnected() {
		s.system("Not connected.")
		return
	}
	old := s.Nick()
	if newNick == old {
		s.system(fmt.Sprintf("You are already known as %s.", old))
		return
	}
	if s.dir.IsNickTaken(newNick, s.Room(), s.id) {
		s.system(fmt.Sprintf("Nickname %s is already taken in this room.", newNick))
		return
	}
	s.stateMu.Lock()
	s.nick = newNick
	s.stateMu.Unlock()
	s.dir.SetNick(s.id, newNick)

	m := model.NewNickMessage(s.Room(), old, newNick, s.fingerprint)
	if err := s.router.SendMessage(ctx, m.Room, m); err != nil {
		metrics.PublishError()
		s.log.Warn().Err(err).Msg("nick announcement publish failed")
	}
	s.dir.AddMessage(m)
	s.system(fmt.Sprintf("You are now known as %s.", newNick))
}

// JoinRoom moves the session to another room, replaying that room's
// recent history afterwards.
func (s *Session) JoinRoom(ctx context.Context, newRoom string) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if !s.isConnected() {
		s.system("Not connected.")
		return
	}
	if newRoom == s.Room() {
		s.system(fmt.Sprintf("You are already in %s.", newRoom))
		return
	}
	if err := s.joinRoomLocked(ctx, newRoom); err != nil {
		s.log.Error().Err(err).Str("room", newRoom).Msg("join room failed")
		s.system(fmt.Sprintf("Failed to join room %s.", newRoom))
	}
}

// joinRoomLocked does the actual room switch. Callers hold opMu.
func (s *Session) joinRoomLocked(ctx context.Context, newRoom string) error {
	oldRoom := s.Room()
	if s.isConnected() {
		leave := model.NewLeaveMessage(oldRoom, s.Nick(), s.fingerprint)
		if err := s.router.SendMessage(ctx, oldRoom, leave); err != nil {
			s.log.Warn().Err(err).Str("room", oldRoom).Msg("leave announcement publish failed")
		}
		if err := s.router.LeaveRoom(ctx, oldRoom); err != nil {
			s.log.Warn().Err(err).Str("room", oldRoom).Msg("unsubscribe failed")
		}
	}

	s.stateMu.Lock()
	s.room = newRoom
	s.stateMu.Unlock()
	s.dir.SetRoom(s.id, newRoom)

	if err := s.router.JoinRoom(ctx, newRoom, s.onInbound); err != nil {
		return fmt.Errorf("subscribe %s: %w", newRoom, err)
	}

	join := model.NewJoinMessage(newRoom, s.Nick(), s.fingerprint)
	if err := s.router.SendMessage(ctx, newRoom, join); err != nil {
		s.log.Warn().Err(err).Str("room", newRoom).Msg("join announcement publish failed")
	}
	s.dir.AddMessage(join)

	if s.cb.OnRoomChange != nil {
		s.cb.OnRoomChange(newRoom)
	}
	if s.cb.OnUserListUpdate != nil {
		s.cb.OnUserListUpdate(s.dir.UsersInRoom(newRoom))
	}
	s.system(fmt.Sprintf("Joined room: %s", newRoom))
	s.replayHistory(newRoom)
	return nil
}

// onInbound receives overlay messages for the subscribed room. It only
// records them; UI delivery rides the directory fan-out so that every
// local session in the room sees the message exactly once.
func (s *Session) onInbound(m model.ChatMessage) {
	if m.Fingerprint == s.fingerprint {
		return
	}
	if s.dir.AddMessage(m) {
		metrics.MessageReceived(string(m.Type))
	}
}

// replayHistory plays the room's recent messages back to this UI,
// skipping the session's own, framed by delimiters when non-empty.
func (s *Session) replayHistory(room string) {
	var replay []model.ChatMessage
	for _, m := range s.dir.RecentMessages(room, s.cfg.HistoryReplay) {
		if m.Fingerprint != s.fingerprint {
			replay = append(replay, m)
		}
	}
	if len(replay) == 0 {
		return
	}
	s.system("--- Recent messages ---")
	if s.cb.OnMessage != nil {
		for _, m := range replay {
			s.cb.OnMessage(m)
		}
	}
	s.system("--- End of history ---")
}

// ShowUserList renders the current room's roster as a system message.
func (s *Session) ShowUserList() {
	if !s.isConnected() {
		s.system("Not connected.")
		return
	}
	room := s.Room()
	users := s.dir.UsersInRoom(room)
	var b strings.Builder
	fmt.Fprintf(&b, "Users in %s (%d):", room, len(users))
	for _, u := range users {
		fmt.Fprintf(&b, "\n  %s [%s]", u.Nick, model.ShortFingerprint(u.Fingerprint))
		if u.SessionID == s.id {
			b.WriteString(" (you)")
		}
	}
	s.system(b.String())
}

// ShowRoomList renders every known room and its occupancy.
func (s *Session) ShowRoomList() {
	if !s.isConnected() {
		s.system("Not connected.")
		return
	}
	rooms := s.dir.KnownRooms()
	var b strings.Builder
	fmt.Fprintf(&b, "Known rooms (%d):", len(rooms))
	for _, room := range rooms {
		fmt.Fprintf(&b, "\n  %s (%d users)", room, len(s.dir.UsersInRoom(room)))
	}
	s.system(b.String())
}

func (s *Session) ClearMessages() {
	if s.cb.OnClear != nil {
		s.cb.OnClear()
	}
}

func (s *Session) ShowSystemMessage(text string) {
	s.system(text)
}

// Disconnect announces the departure, tears down the router view and
// deregisters the user. Idempotent.
func (s *Session) Disconnect(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if !s.isConnected() {
		return
	}
	room := s.Room()
	s.stateMu.Lock()
	s.connected = false
	s.stateMu.Unlock()

	leave := model.NewLeaveMessage(room, s.Nick(), s.fingerprint)
	if err := s.router.SendMessage(ctx, room, leave); err != nil {
		s.log.Warn().Err(err).Str("room", room).Msg("leave announcement publish failed")
	}
	if err := s.router.LeaveRoom(ctx, room); err != nil {
		s.log.Warn().Err(err).Str("room", room).Msg("unsubscribe failed")
	}
	if err := s.router.Destroy(); err != nil {
		s.log.Warn().Err(err).Msg("router teardown failed")
	}
	s.dir.RemoveUser(s.id)
	metrics.SessionEnded()
	if s.cb.OnDisconnect != nil {
		s.cb.OnDisconnect()
	}
	s.log.Info().Msg("session disconnected")
}

// Destroy disconnects and detaches the directory listeners.
func (s *Session) Destroy(ctx context.Context) {
	s.Disconnect(ctx)
	s.dir.Unsubscribe(s.listener)
}

func (s *Session) system(text string) {
	if s.cb.OnSystemMessage != nil {
		s.cb.OnSystemMessage(text)
	}
}
