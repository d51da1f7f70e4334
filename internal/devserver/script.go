package devserver

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/wayfarer/internal/config"
	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/protocol"
)

var profilingQuestions = []string{
	"Where did your favourite trip take you?",
	"Do you prefer cities or the outdoors?",
	"How do you like to pace a day away from home?",
	"What kind of food do you go looking for?",
	"Who do you usually travel with?",
	"What would make a trip feel wasted to you?",
}

var brainstormPlaces = []struct{ name, description string }{
	{"Lisbon", "Hills, tiled facades and long evenings by the river."},
	{"Kyoto", "Temples, gardens and quiet lanes in the old districts."},
	{"Oaxaca", "Markets, mezcal and a serious food scene."},
	{"Tromso", "Northern lights and fjords within a short drive."},
}

// firstMessage is the opening line returned by the start call.
func firstMessage(kind domain.SessionKind) string {
	switch kind {
	case domain.KindProfiling:
		return "Hi! Let's get to know your travel style. " + profilingQuestions[0]
	case domain.KindBrainstorm:
		return "Tell me what you're in the mood for and I'll suggest a few places."
	default:
		return "Let's plan your trip. Where and when are you going?"
	}
}

func questionFor(n int) string {
	return profilingQuestions[n%len(profilingQuestions)]
}

// frameWriter writes inbound frames to one connection, spelling tags the way
// the session kind expects on the wire.
type frameWriter struct {
	conn  *websocket.Conn
	tags  map[string]string // canonical -> wire
	delay time.Duration
}

// newFrameWriter inverts the client's alias table so the dev server speaks
// the same dialect a real server would for the kind.
func newFrameWriter(conn *websocket.Conn, kind domain.SessionKind, delay time.Duration) *frameWriter {
	tags := make(map[string]string)
	if ks, ok := config.DefaultKinds()[string(kind)]; ok {
		for alias, canonical := range ks.Aliases {
			tags[canonical] = alias
		}
	}
	return &frameWriter{conn: conn, tags: tags, delay: delay}
}

func (w *frameWriter) write(f protocol.InboundFrame) error {
	if wire, ok := w.tags[f.Type]; ok {
		f.Type = wire
	}
	return w.conn.WriteJSON(f)
}

// stream writes a thinking frame, the text as word tokens, and then the
// final message.
func (w *frameWriter) stream(msg protocol.InboundFrame) error {
	if err := w.write(protocol.InboundFrame{Type: protocol.TagThinking}); err != nil {
		return err
	}
	for _, tok := range strings.SplitAfter(msg.Content, " ") {
		if tok == "" {
			continue
		}
		if w.delay > 0 {
			time.Sleep(w.delay)
		}
		if err := w.write(protocol.InboundFrame{Type: protocol.TagToken, Token: tok}); err != nil {
			return err
		}
	}
	msg.Type = protocol.TagMessage
	if msg.Role == "" {
		msg.Role = string(domain.RoleAssistant)
	}
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	return w.write(msg)
}

func progressFrame(current, total int) protocol.InboundFrame {
	completeness := float64(current-1) / float64(total)
	return protocol.InboundFrame{
		Type:            protocol.TagProgress,
		CurrentQuestion: current,
		TotalQuestions:  total,
		Completeness:    &completeness,
	}
}

// greet runs when a socket opens. Profiling reports where the interview
// stands so a reconnecting client can resume its progress bar.
func (s *Server) greet(w *frameWriter, sess session) error {
	if sess.kind != domain.KindProfiling {
		return nil
	}
	return w.write(progressFrame(min(sess.answered+1, s.questions()), s.questions()))
}

// reply scripts the server's answer to one user turn. It reports whether the
// session is finished and the socket should be closed normally.
func (s *Server) reply(w *frameWriter, sess session, text, clientID string) (bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return false, w.write(protocol.InboundFrame{Type: protocol.TagError, Message: "message is empty"})
	}

	echo := protocol.InboundFrame{
		Type:            protocol.TagMessage,
		Role:            string(domain.RoleUser),
		Content:         text,
		MessageID:       uuid.NewString(),
		ClientMessageID: clientID,
	}
	if err := w.write(echo); err != nil {
		return false, err
	}

	switch sess.kind {
	case domain.KindProfiling:
		return s.replyProfiling(w, sess, text)
	case domain.KindBrainstorm:
		return false, s.replyBrainstorm(w, text)
	default:
		return s.replyPlanning(w, sess, text)
	}
}

func (s *Server) replyProfiling(w *frameWriter, sess session, text string) (bool, error) {
	total := s.questions()
	current := sess.answered + 1
	qid := fmt.Sprintf("q%d", current)

	if len(strings.Fields(text)) < 2 {
		if err := w.write(protocol.InboundFrame{
			Type:       protocol.TagValidation,
			QuestionID: qid,
			Status:     protocol.ValidationInsufficient,
			Feedback:   "Could you tell me a bit more?",
		}); err != nil {
			return false, err
		}
		return false, w.stream(protocol.InboundFrame{Content: "Could you say a little more? " + questionFor(sess.answered)})
	}

	answered := s.reg.answer(sess.id)
	status := protocol.ValidationSufficient
	if answered >= total {
		status = protocol.ValidationComplete
	}
	if err := w.write(protocol.InboundFrame{Type: protocol.TagValidation, QuestionID: qid, Status: status}); err != nil {
		return false, err
	}

	if answered < total {
		if err := w.stream(protocol.InboundFrame{Content: "Thanks! " + questionFor(answered)}); err != nil {
			return false, err
		}
		return false, w.write(progressFrame(answered+1, total))
	}

	completeness := 1.0
	return true, w.write(protocol.InboundFrame{
		Type:         protocol.TagComplete,
		ProfileID:    "profile-" + sess.id,
		Completeness: &completeness,
		Content:      "Thanks, your travel profile is ready.",
	})
}

func (s *Server) replyBrainstorm(w *frameWriter, text string) error {
	proposals := make([]domain.Proposal, 0, 2)
	start := len(text) % len(brainstormPlaces)
	for i := range 2 {
		p := brainstormPlaces[(start+i)%len(brainstormPlaces)]
		proposals = append(proposals, domain.Proposal{
			ID:          uuid.NewString(),
			Kind:        domain.ProposalLocation,
			Name:        p.name,
			Description: p.description,
			Decision:    domain.Pending(),
		})
	}
	return w.stream(protocol.InboundFrame{
		Content:   "Here are a couple of ideas based on that.",
		Proposals: proposals,
		QuickReplies: []domain.QuickReply{
			{Label: "More like these", Value: "Show me more places like these"},
			{Label: "Somewhere warmer", Value: "Somewhere warmer please"},
		},
	})
}

func (s *Server) replyPlanning(w *frameWriter, sess session, text string) (bool, error) {
	answered := s.reg.answer(sess.id)
	if err := w.stream(protocol.InboundFrame{
		Content: fmt.Sprintf("Noted. I've added %q to the plan.", text),
		Author:  "planner",
	}); err != nil {
		return false, err
	}

	budget, _ := json.Marshal(1200 + 100*answered)
	note, _ := json.Marshal(text)
	if err := w.write(protocol.InboundFrame{
		Type: protocol.TagTripUpdated,
		Updates: []protocol.TripUpdate{
			{Field: "budget", Value: budget, Currency: "EUR"},
			{Field: "notes", Value: note},
		},
	}); err != nil {
		return false, err
	}

	if err := w.write(protocol.InboundFrame{
		Type: protocol.TagPhotos,
		Photos: []protocol.Photo{{
			Query:   text,
			Caption: "Inspiration for " + text,
			URL:     "https://images.example.com/" + uuid.NewString() + ".jpg",
		}},
	}); err != nil {
		return false, err
	}

	if answered < s.questions() {
		return false, nil
	}
	return true, w.write(protocol.InboundFrame{
		Type:    protocol.TagComplete,
		Content: "Your itinerary is ready.",
	})
}
