// File: internal/infra/term/ui.go
package term

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"whisper/internal/domain/model"
	"whisper/internal/usecase"
)

// UI renders one session's chat view onto an SSH channel using a
// line-editing terminal. Writes are serialized so that event fan-out
// from other goroutines never interleaves mid-line.
type UI struct {
	mu   sync.Mutex
	term *term.Terminal
	log  zerolog.Logger
}

func NewUI(rw io.ReadWriter, width, height int, log zerolog.Logger) *UI {
	t := term.NewTerminal(rw, "> ")
	if width > 0 && height > 0 {
		_ = t.SetSize(width, height)
	}
	return &UI{
		term: t,
		log:  log.With().Str("component", "ui").Logger(),
	}
}

// ReadLine blocks until the user submits a line. Returns io.EOF when the
// channel closes.
func (u *UI) ReadLine() (string, error) {
	return u.term.ReadLine()
}

// Resize follows the SSH window-change stream.
func (u *UI) Resize(width, height int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	_ = u.term.SetSize(width, height)
}

// Callbacks adapts this UI to the session's output surface.
func (u *UI) Callbacks() usecase.SessionCallbacks {
	return usecase.SessionCallbacks{
		OnMessage:        u.renderMessage,
		OnSystemMessage:  u.renderSystem,
		OnUserListUpdate: func([]model.UserInfo) {}, // roster changes are surfaced via /users
		OnRoomChange:     u.renderRoomChange,
		OnDisconnect:     func() {},
		OnClear:          u.clear,
	}
}

func (u *UI) renderMessage(m model.ChatMessage) {
	ts := time.UnixMilli(m.Timestamp).Format("15:04:05")
	esc := u.term.Escape
	var line string
	switch m.Type {
	case model.MessageAction:
		line = fmt.Sprintf("[%s] %s* %s %s%s", ts, string(esc.Magenta), m.Nick, m.Content, string(esc.Reset))
	case model.MessageJoin, model.MessageLeave, model.MessageNick:
		line = fmt.Sprintf("[%s] %s-- %s%s", ts, string(esc.Yellow), m.Content, string(esc.Reset))
	default:
		line = fmt.Sprintf("[%s] %s<%s#%s>%s %s",
			ts, string(esc.Cyan), m.Nick, model.ShortFingerprint(m.Fingerprint), string(esc.Reset), m.Content)
	}
	u.writeLine(line)
}

func (u *UI) renderSystem(text string) {
	esc := u.term.Escape
	u.writeLine(fmt.Sprintf("%s%s%s", string(esc.Green), text, string(esc.Reset)))
}

func (u *UI) renderRoomChange(room string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.term.SetPrompt(fmt.Sprintf("[%s] > ", room))
}

func (u *UI) clear() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, err := u.term.Write([]byte("\x1b[2J\x1b[H")); err != nil {
		u.log.Debug().Err(err).Msg("clear failed")
	}
}

func (u *UI) writeLine(line string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, err := u.term.Write([]byte(line + "\r\n")); err != nil {
		u.log.Debug().Err(err).Msg("write failed")
	}
}
