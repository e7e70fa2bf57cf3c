// File: internal/usecase/command.go
package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

const maxNameLength = 32

// CommandProcessor parses slash-prefixed input and dispatches to the
// session. Handler panics are caught and surfaced to the user.
type CommandProcessor struct {
	maxNickLength     int
	maxRoomNameLength int
	log               zerolog.Logger
}

func NewCommandProcessor(maxNickLength, maxRoomNameLength int, log zerolog.Logger) *CommandProcessor {
	if maxNickLength <= 0 {
		maxNickLength = maxNameLength
	}
	if maxRoomNameLength <= 0 {
		maxRoomNameLength = maxNameLength
	}
	return &CommandProcessor{
		maxNickLength:     maxNickLength,
		maxRoomNameLength: maxRoomNameLength,
		log:               log.With().Str("component", "commands").Logger(),
	}
}

const helpText = `Available commands:
  /nick <name>   change your nickname (aliases: /n)
  /join <room>   switch to another room (aliases: /j)
  /users         list users in the current room (aliases: /who, /w)
  /rooms         list known rooms (aliases: /r)
  /me <text>     send an action message
  /clear         clear the screen (aliases: /cls)
  /help          show this help (aliases: /h, /?)
  /quit          disconnect (aliases: /q, /exit)`

// Handle dispatches one slash command. input must start with "/".
func (p *CommandProcessor) Handle(ctx context.Context, s *Session, input string) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Str("input", input).Msg("command handler panicked")
			s.ShowSystemMessage(fmt.Sprintf("Command failed: %v", r))
		}
	}()

	fields := strings.Fields(strings.TrimPrefix(input, "/"))
	if len(fields) == 0 {
		return
	}
	name := strings.ToLower(fields[0])
	args := fields[1:]

	switch name {
	case "nick", "n":
		if len(args) == 0 {
			s.ShowSystemMessage("Usage: /nick <name>")
			return
		}
		nick := SanitizeNick(args[0], p.maxNickLength)
		if !ValidName(nick) {
			s.ShowSystemMessage("Invalid nickname. Use letters, digits, _ and - only.")
			return
		}
		s.ChangeNick(ctx, nick)

	case "join", "j":
		if len(args) == 0 {
			s.ShowSystemMessage("Usage: /join <room>")
			return
		}
		room := SanitizeRoomName(args[0], p.maxRoomNameLength)
		if !ValidName(room) {
			s.ShowSystemMessage("Invalid room name. Use letters, digits, _ and - only.")
			return
		}
		s.JoinRoom(ctx, room)

	case "users", "who", "w":
		s.ShowUserList()

	case "rooms", "r":
		s.ShowRoomList()

	case "help", "h", "?":
		s.ShowSystemMessage(helpText)

	case "quit", "q", "exit":
		s.ShowSystemMessage("Goodbye!")
		s.Disconnect(ctx)

	case "me":
		if len(args) == 0 {
			s.ShowSystemMessage("Usage: /me <text>")
			return
		}
		s.SendAction(ctx, strings.Join(args, " "))

	case "clear", "cls":
		s.ClearMessages()

	default:
		s.ShowSystemMessage(fmt.Sprintf("Unknown command: /%s. Type /help for available commands.", name))
	}
}

// SanitizeNick strips everything outside [a-zA-Z0-9_-] and truncates.
func SanitizeNick(s string, max int) string {
	return sanitizeName(s, max)
}

// SanitizeRoomName sanitizes like SanitizeNick and lowercases; room names
// are case-insensitive on the wire.
func SanitizeRoomName(s string, max int) string {
	return strings.ToLower(sanitizeName(s, max))
}

// ValidName reports whether a post-sanitization name is usable: non-empty
// and made of allowed characters only.
func ValidName(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !allowedNameChar(c) {
			return false
		}
	}
	return true
}

func sanitizeName(s string, max int) string {
	if max <= 0 {
		max = maxNameLength
	}
	var b strings.Builder
	for _, c := range s {
		if allowedNameChar(c) {
			b.WriteRune(c)
		}
	}
	out := b.String()
	if len(out) > max {
		out = out[:max]
	}
	return out
}

func allowedNameChar(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z':
	case c >= 'A' && c <= 'Z':
	case c >= '0' && c <= '9':
	case c == '_' || c == '-':
	default:
		return false
	}
	return true
}
