package domain

import "time"

// Role is the author class of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// MessageStatus tracks delivery of user messages. Server messages leave it empty.
type MessageStatus string

const (
	StatusSending MessageStatus = "sending"
	StatusSent    MessageStatus = "sent"
	StatusError   MessageStatus = "error"
)

// QuickReply is a suggested answer rendered under an assistant message.
type QuickReply struct {
	Label string `json:"label"`
	Value string `json:"value,omitempty"`
}

// ChatMessage is one entry of a chat thread.
type ChatMessage struct {
	ID           string        `json:"id"`
	Role         Role          `json:"role"`
	Text         string        `json:"text,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	Status       MessageStatus `json:"status,omitempty"`
	ClientID     string        `json:"clientId,omitempty"` // correlation id of the optimistic send
	Author       string        `json:"author,omitempty"`
	QuickReplies []QuickReply  `json:"quickReplies,omitempty"`
	Proposals    []Proposal    `json:"proposals,omitempty"`
}

// Terminal reports whether the message has left the sending state.
func (m ChatMessage) Terminal() bool {
	return m.Status != StatusSending
}

// Clone returns a copy that shares no slices with m.
func (m ChatMessage) Clone() ChatMessage {
	c := m
	if m.QuickReplies != nil {
		c.QuickReplies = append([]QuickReply(nil), m.QuickReplies...)
	}
	if m.Proposals != nil {
		c.Proposals = append([]Proposal(nil), m.Proposals...)
	}
	return c
}

// CloneMessages deep-copies a message slice.
func CloneMessages(msgs []ChatMessage) []ChatMessage {
	if msgs == nil {
		return nil
	}
	out := make([]ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
