package notification

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event names emitted by the core.
const (
	EventApprovalCreated   = "approval.created"
	EventApprovalVoted     = "approval.voted"
	EventApprovalClosed    = "approval.closed"
	EventProfilesDeleted   = "approval_profile.deleted"
	EventComplianceChecked = "compliance.checked"
	EventTriggerApplied    = "trigger.applied"
)

// Message is a notification addressed to users and/or role holders.
// A message with no recipients is broadcast.
type Message struct {
	Event       string          `json:"event"`
	Title       string          `json:"title"`
	ResourceID  *uuid.UUID      `json:"resourceId,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	TargetUsers []uuid.UUID     `json:"-"`
	TargetRoles []string        `json:"-"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// NewMessage creates a message for the given event.
func NewMessage(event, title string, resourceID *uuid.UUID, payload any) *Message {
	m := &Message{
		Event:      event,
		Title:      title,
		ResourceID: resourceID,
		CreatedAt:  time.Now().UTC(),
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			m.Payload = data
		}
	}
	return m
}

// ToUsers adds user recipients.
func (m *Message) ToUsers(ids ...uuid.UUID) *Message {
	for _, id := range ids {
		if id != uuid.Nil {
			m.TargetUsers = append(m.TargetUsers, id)
		}
	}
	return m
}

// ToRoles adds role recipients.
func (m *Message) ToRoles(roles ...string) *Message {
	for _, r := range roles {
		if r != "" {
			m.TargetRoles = append(m.TargetRoles, r)
		}
	}
	return m
}

// IsBroadcast reports whether the message has no explicit recipients.
func (m *Message) IsBroadcast() bool {
	return len(m.TargetUsers) == 0 && len(m.TargetRoles) == 0
}

// Dispatcher delivers messages. Dispatch must not block and never fails the caller.
type Dispatcher interface {
	Dispatch(msg *Message)
}

// Nop discards every message.
type Nop struct{}

func (Nop) Dispatch(*Message) {}

// SSEClient represents an active SSE connection
type SSEClient struct {
	ClientID    string
	UserID      *string
	Groups      []string
	ConnectedAt time.Time
	MessageChan chan *SSEMessage
}

// NewSSEClient creates a new SSE client
func NewSSEClient(clientID string, userID *string, groups []string) *SSEClient {
	return &SSEClient{
		ClientID:    clientID,
		UserID:      userID,
		Groups:      groups,
		ConnectedAt: time.Now().UTC(),
		MessageChan: make(chan *SSEMessage, 100),
	}
}

// Close closes the client's message channel
func (c *SSEClient) Close() {
	close(c.MessageChan)
}

// SSEMessage represents a message to be sent via SSE
type SSEMessage struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewSSEMessage creates a new SSE message
func NewSSEMessage(event string, data json.RawMessage) *SSEMessage {
	return &SSEMessage{
		ID:        uuid.New().String(),
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}
