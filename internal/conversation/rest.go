package conversation

import (
	"context"
	"fmt"

	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/logging"
	"github.com/soyeahso/wayfarer/internal/thread"
)

// MessageAPI is the REST side of onboarding and project chat.
type MessageAPI interface {
	PostMessage(ctx context.Context, conversationID, clientID, text string) ([]domain.ChatMessage, error)
	History(ctx context.Context, conversationID string) ([]domain.ChatMessage, error)
}

// RESTChat sends chat messages over REST with optimistic insertion. A failed
// post marks the message failed; it is only resent through Retry.
type RESTChat struct {
	api    MessageAPI
	thread *thread.Store
	log    *logging.Logger
}

// NewRESTChat creates a REST chat over an existing thread.
func NewRESTChat(api MessageAPI, th *thread.Store, log *logging.Logger) *RESTChat {
	return &RESTChat{
		api:    api,
		thread: th,
		log:    log.Sub("restchat").With("conversation", th.ConversationID()),
	}
}

// Thread returns the underlying thread.
func (r *RESTChat) Thread() *thread.Store { return r.thread }

// Load restores the cached thread and, when the cache is empty, seeds it from
// the server's history.
func (r *RESTChat) Load(ctx context.Context) error {
	if err := r.thread.Restore(ctx); err != nil {
		r.log.Warn().Err(err).Msg("cached thread unavailable")
	}
	if r.thread.Len() > 0 {
		return nil
	}
	msgs, err := r.api.History(ctx, r.thread.ConversationID())
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	r.thread.Replace(msgs)
	return nil
}

// Send posts text and reconciles the optimistic message with the server's
// fan-out. The returned id is the optimistic id, valid for Retry on failure.
func (r *RESTChat) Send(ctx context.Context, text string) (string, error) {
	id, err := r.thread.AppendOptimistic(text)
	if err != nil {
		return "", err
	}
	return id, r.post(ctx, id, text)
}

// Retry resends a failed message under a new optimistic id.
func (r *RESTChat) Retry(ctx context.Context, id string) (string, error) {
	newID, text, err := r.thread.Retry(id)
	if err != nil {
		return "", err
	}
	return newID, r.post(ctx, newID, text)
}

func (r *RESTChat) post(ctx context.Context, id, text string) error {
	msgs, err := r.api.PostMessage(ctx, r.thread.ConversationID(), id, text)
	if err != nil {
		r.log.Warn().Err(err).Str("id", id).Msg("send failed")
		if markErr := r.thread.MarkFailed(id); markErr != nil {
			r.log.Debug().Err(markErr).Msg("failed message already gone")
		}
		return err
	}
	return r.thread.MarkSent(id, msgs)
}
