package protocol

import (
	"fmt"

	"github.com/soyeahso/wayfarer/internal/domain"
)

// Event is a decoded inbound frame with its canonical tag.
type Event struct {
	Tag   string
	Frame InboundFrame
}

// Progress returns the progress payload.
func (e Event) Progress() Progress {
	p := Progress{Current: e.Frame.CurrentQuestion, Total: e.Frame.TotalQuestions}
	if e.Frame.Completeness != nil {
		p.Completeness = *e.Frame.Completeness
	}
	return p
}

func (p Progress) String() string {
	return fmt.Sprintf("%d/%d", p.Current, p.Total)
}

// Validation returns the validation payload.
func (e Event) Validation() Validation {
	return Validation{
		QuestionID: e.Frame.QuestionID,
		Status:     e.Frame.Status,
		Feedback:   e.Frame.Feedback,
	}
}

// Completion returns the terminal payload.
func (e Event) Completion() Completion {
	c := Completion{ProfileID: e.Frame.ProfileID, Content: e.Frame.Content}
	if e.Frame.Completeness != nil {
		c.Completeness = *e.Frame.Completeness
	}
	return c
}

// ErrorText returns the human readable text of an error event.
func (e Event) ErrorText() string {
	if e.Frame.Message != "" {
		return e.Frame.Message
	}
	return e.Frame.Content
}

// ChatMessage builds the authoritative message carried by a message or
// complete event. The id is left empty when the server did not supply one.
func (e Event) ChatMessage() domain.ChatMessage {
	role := domain.Role(e.Frame.Role)
	switch role {
	case domain.RoleUser, domain.RoleSystem, domain.RoleAssistant:
	default:
		role = domain.RoleAssistant
	}
	msg := domain.ChatMessage{
		ID:           e.Frame.MessageID,
		Role:         role,
		Text:         e.Frame.Content,
		ClientID:     e.Frame.ClientMessageID,
		Author:       e.Frame.Author,
		QuickReplies: e.Frame.QuickReplies,
		Proposals:    e.Frame.Proposals,
	}
	if role == domain.RoleUser {
		msg.Status = domain.StatusSent
	}
	for i := range msg.Proposals {
		if msg.Proposals[i].Decision.State == "" {
			msg.Proposals[i].Decision = domain.Pending()
		}
	}
	return msg
}
