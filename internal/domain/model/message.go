package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"whisper/internal/domain"
)

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageJoin   MessageType = "join"
	MessageLeave  MessageType = "leave"
	MessageNick   MessageType = "nick"
	MessageAction MessageType = "action"
)

// DefaultMaxMessageSize bounds the UTF-8 byte length of a text message body.
const DefaultMaxMessageSize = 4096

// ChatMessage is both the in-memory record and the wire form published to
// a room topic. Each message is encoded independently as a JSON object.
type ChatMessage struct {
	ID          string      `json:"id"`
	Timestamp   int64       `json:"timestamp"` // ms since epoch, producer clock
	Room        string      `json:"room"`
	Nick        string      `json:"nick"`
	Fingerprint string      `json:"fingerprint"`
	Type        MessageType `json:"type"`
	Content     string      `json:"content"`
	OldNick     string      `json:"oldNick,omitempty"` // set iff Type == MessageNick
}

func newMessage(typ MessageType, room, nick, fp, content string) ChatMessage {
	return ChatMessage{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UnixMilli(),
		Room:        room,
		Nick:        nick,
		Fingerprint: fp,
		Type:        typ,
		Content:     content,
	}
}

func NewTextMessage(room, nick, fp, content string) ChatMessage {
	return newMessage(MessageText, room, nick, fp, content)
}

func NewJoinMessage(room, nick, fp string) ChatMessage {
	return newMessage(MessageJoin, room, nick, fp, fmt.Sprintf("%s has joined the room", nick))
}

func NewLeaveMessage(room, nick, fp string) ChatMessage {
	return newMessage(MessageLeave, room, nick, fp, fmt.Sprintf("%s has left the room", nick))
}

func NewNickMessage(room, oldNick, newNick, fp string) ChatMessage {
	m := newMessage(MessageNick, room, newNick, fp, fmt.Sprintf("%s is now known as %s", oldNick, newNick))
	m.OldNick = oldNick
	return m
}

func NewActionMessage(room, nick, fp, action string) ChatMessage {
	return newMessage(MessageAction, room, nick, fp, action)
}

// Encode serializes the message to its wire form.
func (m ChatMessage) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return b, nil
}

// DecodeMessage is the inverse of Encode. Malformed payloads yield an
// error wrapping domain.ErrBadMessage.
func DecodeMessage(data []byte) (ChatMessage, error) {
	var m ChatMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return ChatMessage{}, fmt.Errorf("%w: %v", domain.ErrBadMessage, err)
	}
	if m.ID == "" || m.Room == "" || !validType(m.Type) {
		return ChatMessage{}, fmt.Errorf("%w: missing required fields", domain.ErrBadMessage)
	}
	return m, nil
}

func validType(t MessageType) bool {
	switch t {
	case MessageText, MessageJoin, MessageLeave, MessageNick, MessageAction:
		return true
	}
	return false
}

// ContentSizeOK checks the UTF-8 byte length of the content alone, not the
// full encoded record.
func ContentSizeOK(content string, max int) bool {
	if max <= 0 {
		max = DefaultMaxMessageSize
	}
	return len(content) <= max
}
