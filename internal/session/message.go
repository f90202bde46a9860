package session

import (
	"strings"
	"time"
)

// Role represents the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole accepts the two roles stored in history, case-insensitively.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleUser:
		return RoleUser, true
	case RoleAssistant:
		return RoleAssistant, true
	default:
		return "", false
	}
}

// MessageID is either a draft, known only by a client-generated local id, or committed,
// carrying the id the history store assigned. A committed draft keeps its local id so that
// late updates addressed to the draft still find it.
type MessageID struct {
	local  string
	server string
}

func DraftID(local string) MessageID {
	return MessageID{local: local}
}

func CommittedID(server string) MessageID {
	return MessageID{server: server}
}

func (id MessageID) Committed() bool {
	return id.server != ""
}

func (id MessageID) Local() string {
	return id.local
}

func (id MessageID) Server() string {
	return id.server
}

// Commit returns the id reconciled with the server-assigned value.
func (id MessageID) Commit(server string) MessageID {
	id.server = server
	return id
}

func (id MessageID) String() string {
	if id.server != "" {
		return id.server
	}
	return id.local
}

// Message is one entry of the conversation. Only the assistant message being streamed
// changes content after creation.
type Message struct {
	ID        MessageID
	Role      Role
	Content   string
	CreatedAt time.Time
}
