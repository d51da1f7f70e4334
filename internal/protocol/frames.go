// Package protocol defines the realtime wire format and turns raw frames into
// typed events.
package protocol

import (
	"encoding/json"

	"github.com/soyeahso/wayfarer/internal/domain"
)

// Canonical inbound tags.
const (
	TagMessage     = "message"
	TagToken       = "token"
	TagThinking    = "thinking"
	TagProgress    = "progress"
	TagValidation  = "validation"
	TagComplete    = "complete"
	TagTripUpdated = "trip_updated"
	TagPhotos      = "photos"
	TagError       = "error"
	TagPong        = "pong"
)

// KnownTags lists every canonical inbound tag.
var KnownTags = []string{
	TagMessage,
	TagToken,
	TagThinking,
	TagProgress,
	TagValidation,
	TagComplete,
	TagTripUpdated,
	TagPhotos,
	TagError,
	TagPong,
}

// Outbound frame types.
const (
	FrameTypeMessage    = "message"
	FrameTypeUserAnswer = "user_answer"
	FrameTypePing       = "ping"
)

// ValidationStatus grades an answer during profiling.
type ValidationStatus string

const (
	ValidationInsufficient ValidationStatus = "insufficient"
	ValidationSufficient   ValidationStatus = "sufficient"
	ValidationComplete     ValidationStatus = "complete"
)

// InboundFrame is the union of every field the server may send.
type InboundFrame struct {
	Type string `json:"type"`

	// message
	Role            string              `json:"role,omitempty"`
	Content         string              `json:"content,omitempty"`
	MessageID       string              `json:"message_id,omitempty"`
	ClientMessageID string              `json:"client_message_id,omitempty"`
	Author          string              `json:"author,omitempty"`
	QuickReplies    []domain.QuickReply `json:"quick_replies,omitempty"`
	Proposals       []domain.Proposal   `json:"proposals,omitempty"`

	// token
	Token string `json:"token,omitempty"`

	// progress
	CurrentQuestion int      `json:"current_question,omitempty"`
	TotalQuestions  int      `json:"total_questions,omitempty"`
	Completeness    *float64 `json:"completeness,omitempty"`

	// validation
	QuestionID string           `json:"question_id,omitempty"`
	Status     ValidationStatus `json:"status,omitempty"`
	Feedback   string           `json:"feedback,omitempty"`

	// complete
	ProfileID string `json:"profile_id,omitempty"`

	// domain side-channel
	Updates []TripUpdate `json:"updates,omitempty"`
	Photos  []Photo      `json:"photos,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// OutboundFrame is a client to server frame. Only one of Content/Answer is set.
type OutboundFrame struct {
	Type            string `json:"type"`
	Content         string `json:"content,omitempty"`
	Answer          string `json:"answer,omitempty"`
	ClientMessageID string `json:"client_message_id,omitempty"`
}

// Ping is the heartbeat frame.
var Ping = OutboundFrame{Type: FrameTypePing}

// TripUpdate is one structured field change pushed during planning.
type TripUpdate struct {
	Field    string          `json:"field"`
	Value    json.RawMessage `json:"value"`
	Currency string          `json:"currency,omitempty"`
}

// Photo is one entry of a photo batch.
type Photo struct {
	Query   string `json:"query"`
	Caption string `json:"caption"`
	URL     string `json:"url"`
}

// Progress reports profiling advancement.
type Progress struct {
	Current      int     `json:"current"`
	Total        int     `json:"total"`
	Completeness float64 `json:"completeness"`
}

// Validation is feedback on a single answer.
type Validation struct {
	QuestionID string           `json:"questionId"`
	Status     ValidationStatus `json:"status"`
	Feedback   string           `json:"feedback,omitempty"`
}

// Completion is the terminal payload of a session. Profiling sets ProfileID
// and Completeness; planning sets Content.
type Completion struct {
	ProfileID    string  `json:"profileId,omitempty"`
	Completeness float64 `json:"completeness,omitempty"`
	Content      string  `json:"content,omitempty"`
}
