package conversation

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/wayfarer/internal/api"
	"github.com/soyeahso/wayfarer/internal/config"
	"github.com/soyeahso/wayfarer/internal/devserver"
	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/logging"
	"github.com/soyeahso/wayfarer/internal/store"
	"github.com/soyeahso/wayfarer/internal/thread"
)

type fakeMessageAPI struct {
	reply   []domain.ChatMessage
	err     error
	history []domain.ChatMessage
	posts   []string
}

func (f *fakeMessageAPI) PostMessage(_ context.Context, _, clientID, text string) ([]domain.ChatMessage, error) {
	f.posts = append(f.posts, text)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.ChatMessage, len(f.reply))
	copy(out, f.reply)
	for i := range out {
		if out[i].Role == domain.RoleUser {
			out[i].ClientID = clientID
		}
	}
	return out, nil
}

func (f *fakeMessageAPI) History(context.Context, string) ([]domain.ChatMessage, error) {
	return f.history, nil
}

func TestRESTChat_SendFansOut(t *testing.T) {
	fake := &fakeMessageAPI{reply: []domain.ChatMessage{
		{ID: "u1", Role: domain.RoleUser, Text: "Hi", Status: domain.StatusSent},
		{ID: "a1", Role: domain.RoleAssistant, Text: "Hello!"},
	}}
	th := thread.New("c1")
	chat := NewRESTChat(fake, th, logging.New(nil, "silent"))

	_, err := chat.Send(context.Background(), "Hi")
	require.NoError(t, err)

	msgs := th.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "u1", msgs[0].ID)
	assert.Equal(t, "a1", msgs[1].ID)
}

func TestRESTChat_FailureIsNotRetriedAutomatically(t *testing.T) {
	fake := &fakeMessageAPI{err: errors.New("boom")}
	th := thread.New("c1")
	chat := NewRESTChat(fake, th, logging.New(nil, "silent"))

	id, err := chat.Send(context.Background(), "Hi")
	require.Error(t, err)
	assert.Len(t, fake.posts, 1)

	m, ok := th.Get(id)
	require.True(t, ok)
	assert.Equal(t, domain.StatusError, m.Status)

	fake.err = nil
	fake.reply = []domain.ChatMessage{{ID: "u1", Role: domain.RoleUser, Text: "Hi"}}
	newID, err := chat.Retry(context.Background(), id)
	require.NoError(t, err)
	assert.NotEqual(t, id, newID)
	assert.Equal(t, []string{"Hi", "Hi"}, fake.posts)

	msgs := th.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "u1", msgs[0].ID)
}

func TestRESTChat_LoadSeedsEmptyThread(t *testing.T) {
	fake := &fakeMessageAPI{history: []domain.ChatMessage{{ID: "h1", Role: domain.RoleAssistant, Text: "Earlier"}}}
	th := thread.New("c1", thread.WithPersister(store.NewMemoryThreadCache()))
	chat := NewRESTChat(fake, th, logging.New(nil, "silent"))

	require.NoError(t, chat.Load(context.Background()))
	msgs := chat.Thread().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Earlier", msgs[0].Text)
}

func TestRESTChat_AgainstDevServer(t *testing.T) {
	dev := devserver.New(config.Defaults().DevServer, logging.New(nil, "silent"), devserver.WithTokenDelay(0))
	ts := httptest.NewServer(dev.Handler())
	t.Cleanup(ts.Close)

	client := api.NewClient(config.APIConfig{BaseURL: ts.URL, RetryMax: 0}, logging.New(nil, "silent"))
	th := thread.New("project-1")
	chat := NewRESTChat(client, th, logging.New(nil, "silent"))
	ctx := context.Background()

	id, err := chat.Send(ctx, "Where should we eat?")
	require.NoError(t, err)
	msgs := th.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, id, msgs[0].ClientID)
	assert.Equal(t, domain.StatusSent, msgs[0].Status)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)

	dev.FailNext("project-1")
	failed, err := chat.Send(ctx, "And after that?")
	var apiErr *api.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 503, apiErr.StatusCode)
	m, ok := th.Get(failed)
	require.True(t, ok)
	assert.Equal(t, domain.StatusError, m.Status)

	_, err = chat.Retry(ctx, failed)
	require.NoError(t, err)
	msgs = th.Messages()
	require.Len(t, msgs, 4)
	for _, m := range msgs {
		assert.NotEqual(t, domain.StatusError, m.Status)
	}
}
