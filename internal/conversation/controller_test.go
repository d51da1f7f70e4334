package conversation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/wayfarer/internal/api"
	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/hooks"
	"github.com/soyeahso/wayfarer/internal/logging"
	"github.com/soyeahso/wayfarer/internal/protocol"
	"github.com/soyeahso/wayfarer/internal/socket"
	"github.com/soyeahso/wayfarer/internal/store"
	"github.com/soyeahso/wayfarer/internal/thread"
)

func newController(t *testing.T, srv *scriptServer, kind domain.SessionKind, opts ...Option) (*Controller, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts = append([]Option{WithListener(rec.listener())}, opts...)
	c, err := New(testConfig(srv.URL), kind, logging.New(nil, "silent"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })
	return c, rec
}

func countHook(hm *hooks.Manager, event string) *atomic.Int32 {
	var n atomic.Int32
	hm.On(event, "count", func(context.Context, hooks.Payload) error {
		n.Add(1)
		return nil
	})
	return &n
}

func TestProfilingSession_EndToEnd(t *testing.T) {
	srv := newScriptServer(t)
	hm := hooks.NewManager(logging.New(nil, "silent"))
	reconnects := countHook(hm, hooks.EventReconnectScheduled)
	completes := countHook(hm, hooks.EventSessionComplete)
	profiles := store.NewMemoryProfileStore()

	c, rec := newController(t, srv, domain.KindProfiling, WithHooks(hm), WithProfiles(profiles))
	starter := &fakeStarter{res: &api.StartResult{SessionID: "s1", FirstMessage: "Where did you travel last?"}}

	sess, err := c.Start(context.Background(), starter, "")
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)

	conn := srv.next(t)
	assert.Equal(t, "/ws/profiling/s1", <-srv.paths)
	waitState(t, c, domain.StateOpen)

	_, ok := findByText(c.Messages(), "Where did you travel last?")
	assert.True(t, ok, "first message seeds the thread")

	push(t, conn, map[string]any{"type": "progress", "current_question": 1, "total_questions": 4, "completeness": 0.1})
	require.Eventually(t, func() bool {
		p, ok := c.Progress()
		return ok && p.String() == "1/4"
	}, 2*time.Second, 5*time.Millisecond)

	push(t, conn, map[string]any{"type": "complete", "profile_id": "p1", "completeness": 1.0})
	push(t, conn, map[string]any{"type": "complete", "profile_id": "p1", "completeness": 1.0})
	closeWith(t, conn, websocket.CloseNormalClosure, "profiling complete")
	waitState(t, c, domain.StateClosed)

	// Long enough for a reconnect to have happened if one were scheduled.
	time.Sleep(4 * testDelay)

	rec.read(func(r *recorder) {
		require.Len(t, r.completions, 1)
		assert.Equal(t, protocol.Completion{ProfileID: "p1", Completeness: 1.0}, r.completions[0])
		assert.Empty(t, r.terminals)
	})
	assert.True(t, c.Completed())
	assert.Equal(t, int32(1), completes.Load())
	assert.Equal(t, int32(0), reconnects.Load())
	assert.Equal(t, int32(1), srv.upgrades.Load())

	p, err := profiles.LoadProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ProfileID)
	assert.InDelta(t, 1.0, p.Completeness, 0.0001)
}

func TestProfilingSession_AliasedTags(t *testing.T) {
	srv := newScriptServer(t)
	c, rec := newController(t, srv, domain.KindProfiling)
	require.NoError(t, c.Attach(context.Background(), domain.Session{ID: "s1", Kind: domain.KindProfiling}, ""))
	conn := srv.next(t)
	waitState(t, c, domain.StateOpen)

	push(t, conn, map[string]any{"type": "profiling_progress", "current_question": 2, "total_questions": 4})
	push(t, conn, map[string]any{"type": "profiling_validation", "question_id": "q2", "status": "insufficient", "feedback": "more please"})

	require.Eventually(t, func() bool {
		var n int
		rec.read(func(r *recorder) { n = len(r.validations) })
		return n == 1
	}, 2*time.Second, 5*time.Millisecond)
	rec.read(func(r *recorder) {
		assert.Equal(t, "2/4", r.progress[0].String())
		assert.Equal(t, protocol.Validation{QuestionID: "q2", Status: protocol.ValidationInsufficient, Feedback: "more please"}, r.validations[0])
	})
}

func TestProfilingSend_UsesUserAnswer(t *testing.T) {
	srv := newScriptServer(t)
	c, _ := newController(t, srv, domain.KindProfiling)
	require.NoError(t, c.Attach(context.Background(), domain.Session{ID: "s1", Kind: domain.KindProfiling}, ""))
	srv.next(t)
	waitState(t, c, domain.StateOpen)

	id, err := c.Send("Lisbon, last spring")
	require.NoError(t, err)

	f := srv.frame(t)
	assert.Equal(t, protocol.FrameTypeUserAnswer, f.Type)
	assert.Equal(t, "Lisbon, last spring", f.Answer)
	assert.Empty(t, f.Content)
	assert.Equal(t, id, f.ClientMessageID)
}

func TestStreamedTurn_StoresServerText(t *testing.T) {
	srv := newScriptServer(t)
	c, rec := newController(t, srv, domain.KindBrainstorm)
	require.NoError(t, c.Attach(context.Background(), domain.Session{ID: "b1", Kind: domain.KindBrainstorm}, ""))
	conn := srv.next(t)
	waitState(t, c, domain.StateOpen)

	push(t, conn, map[string]any{"type": "thinking"})
	push(t, conn, map[string]any{"type": "token", "token": "Hel"})
	push(t, conn, map[string]any{"type": "token", "token": "lo"})
	require.Eventually(t, func() bool {
		d := c.Draft()
		return d.Draft != nil && d.Draft.Text == "Hello"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, c.Messages(), "the draft is never stored")

	push(t, conn, map[string]any{"type": "message", "role": "assistant", "content": "Hello, traveller", "message_id": "m1"})
	require.Eventually(t, func() bool { return len(c.Messages()) == 1 }, 2*time.Second, 5*time.Millisecond)

	msgs := c.Messages()
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "Hello, traveller", msgs[0].Text)
	assert.Equal(t, domain.RoleAssistant, msgs[0].Role)
	d := c.Draft()
	assert.False(t, d.Composing)
	assert.Nil(t, d.Draft)
	rec.read(func(r *recorder) { assert.NotEmpty(t, r.composing) })
}

func TestSend_EchoReconcilesByCorrelation(t *testing.T) {
	srv := newScriptServer(t)
	c, _ := newController(t, srv, domain.KindBrainstorm)
	require.NoError(t, c.Attach(context.Background(), domain.Session{ID: "b1", Kind: domain.KindBrainstorm}, ""))
	conn := srv.next(t)
	waitState(t, c, domain.StateOpen)

	id, err := c.Send("somewhere sunny")
	require.NoError(t, err)
	f := srv.frame(t)
	assert.Equal(t, protocol.FrameTypeMessage, f.Type)
	assert.Equal(t, "somewhere sunny", f.Content)

	push(t, conn, map[string]any{
		"type": "message", "role": "user", "content": "somewhere sunny",
		"message_id": "srv-1", "client_message_id": id,
	})
	push(t, conn, map[string]any{
		"type": "message", "role": "assistant", "content": "Try Madeira", "message_id": "a1",
	})
	require.Eventually(t, func() bool { return len(c.Messages()) == 2 }, 2*time.Second, 5*time.Millisecond)

	msgs := c.Messages()
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, domain.StatusSent, msgs[0].Status)
	assert.Equal(t, "a1", msgs[1].ID)

	// The id handed out by Send still addresses the message.
	_, err = c.Retry(id)
	assert.ErrorIs(t, err, thread.ErrNotFailed)
}

func TestSend_NotOpenMarksFailedThenRetry(t *testing.T) {
	srv := newScriptServer(t)
	c, _ := newController(t, srv, domain.KindBrainstorm)

	_, err := c.Send("too early")
	assert.ErrorIs(t, err, ErrNotStarted)

	srv.held.Store(true)
	require.NoError(t, c.Attach(context.Background(), domain.Session{ID: "b1", Kind: domain.KindBrainstorm}, ""))
	assert.Equal(t, domain.StateConnecting, c.State())

	// Still connecting: the send is a reported no-op.
	id, err := c.Send("hello")
	assert.ErrorIs(t, err, socket.ErrNotOpen)
	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, domain.StatusError, msgs[0].Status)

	close(srv.release)
	srv.next(t)
	waitState(t, c, domain.StateOpen)
	newID, err := c.Retry(id)
	require.NoError(t, err)
	assert.NotEqual(t, id, newID)

	f := srv.frame(t)
	assert.Equal(t, "hello", f.Content)
	assert.Equal(t, newID, f.ClientMessageID)
	msgs = c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.StatusSent, msgs[0].Status)
}

func TestDecide_FirstDecisionWins(t *testing.T) {
	srv := newScriptServer(t)
	c, _ := newController(t, srv, domain.KindBrainstorm)
	require.NoError(t, c.Attach(context.Background(), domain.Session{ID: "b1", Kind: domain.KindBrainstorm}, ""))
	conn := srv.next(t)
	waitState(t, c, domain.StateOpen)

	push(t, conn, map[string]any{
		"type": "message", "role": "assistant", "content": "How about these?", "message_id": "m1",
		"proposals": []map[string]any{{"id": "p1", "kind": "location", "name": "Lisbon"}},
	})
	require.Eventually(t, func() bool { return len(c.Messages()) == 1 }, 2*time.Second, 5*time.Millisecond)

	rated, err := domain.Rate(2)
	require.NoError(t, err)
	changed, err := c.Decide("p1", rated)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = c.Decide("p1", domain.Reject())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "rated(2)", c.Messages()[0].Proposals[0].Decision.String())
}

func TestPolicyViolation_IsTerminal(t *testing.T) {
	srv := newScriptServer(t)
	hm := hooks.NewManager(logging.New(nil, "silent"))
	terminals := countHook(hm, hooks.EventSessionTerminal)
	c, rec := newController(t, srv, domain.KindBrainstorm, WithHooks(hm))
	require.NoError(t, c.Attach(context.Background(), domain.Session{ID: "b1", Kind: domain.KindBrainstorm}, ""))
	conn := srv.next(t)
	waitState(t, c, domain.StateOpen)

	closeWith(t, conn, websocket.ClosePolicyViolation, "session not found")
	waitState(t, c, domain.StateClosed)
	time.Sleep(4 * testDelay)

	rec.read(func(r *recorder) {
		require.Len(t, r.terminals, 1)
		assert.Equal(t, websocket.ClosePolicyViolation, r.terminals[0].Code)
	})
	assert.Equal(t, int32(1), terminals.Load())
	assert.Equal(t, int32(1), srv.upgrades.Load())
}

func TestAbnormalClose_ReconnectsOnceAndDropsDraft(t *testing.T) {
	srv := newScriptServer(t)
	hm := hooks.NewManager(logging.New(nil, "silent"))
	reconnects := countHook(hm, hooks.EventReconnectScheduled)
	c, _ := newController(t, srv, domain.KindBrainstorm, WithHooks(hm))
	require.NoError(t, c.Attach(context.Background(), domain.Session{ID: "b1", Kind: domain.KindBrainstorm}, ""))
	conn := srv.next(t)
	waitState(t, c, domain.StateOpen)

	push(t, conn, map[string]any{"type": "token", "token": "half a sen"})
	require.Eventually(t, func() bool { return c.Draft().Draft != nil }, 2*time.Second, 5*time.Millisecond)

	conn.Close()
	srv.next(t)
	waitState(t, c, domain.StateOpen)

	assert.Nil(t, c.Draft().Draft)
	assert.Equal(t, int32(1), reconnects.Load())
	assert.Equal(t, int32(2), srv.upgrades.Load())
}

func TestServerErrorEvent_KeepsSocketOpen(t *testing.T) {
	srv := newScriptServer(t)
	c, rec := newController(t, srv, domain.KindPlanning)
	require.NoError(t, c.Attach(context.Background(), domain.Session{ID: "t1", Kind: domain.KindPlanning, UserID: "u1"}, ""))
	conn := srv.next(t)
	assert.Equal(t, "/ws/planning/t1?user_id=u1", <-srv.paths)
	waitState(t, c, domain.StateOpen)

	push(t, conn, map[string]any{"type": "error", "message": "budget service down"})
	push(t, conn, map[string]any{"type": "trip_updated", "updates": []map[string]any{{"field": "budget", "value": 1500, "currency": "EUR"}}})
	push(t, conn, map[string]any{"type": "photos", "photos": []map[string]any{{"query": "lisbon", "caption": "Alfama", "url": "https://x/y.jpg"}}})
	push(t, conn, map[string]any{"type": "no_such_tag"})
	push(t, conn, map[string]any{"type": "pong"})

	require.Eventually(t, func() bool {
		var n int
		rec.read(func(r *recorder) { n = len(r.photos) })
		return n == 1
	}, 2*time.Second, 5*time.Millisecond)

	rec.read(func(r *recorder) {
		require.Len(t, r.errs, 1)
		var se *ServerError
		require.True(t, errors.As(r.errs[0], &se))
		assert.Equal(t, "budget service down", se.Message)
		require.Len(t, r.trips, 1)
		assert.Equal(t, "budget", r.trips[0][0].Field)
		assert.Equal(t, "EUR", r.trips[0][0].Currency)
	})
	assert.Equal(t, domain.StateOpen, c.State())
}

func TestPlanningCompletion_AppendsContent(t *testing.T) {
	srv := newScriptServer(t)
	c, rec := newController(t, srv, domain.KindPlanning)
	require.NoError(t, c.Attach(context.Background(), domain.Session{ID: "t1", Kind: domain.KindPlanning, UserID: "u1"}, ""))
	conn := srv.next(t)
	waitState(t, c, domain.StateOpen)

	push(t, conn, map[string]any{"type": "complete", "content": "Your itinerary is ready."})
	require.Eventually(t, func() bool { return c.Completed() }, 2*time.Second, 5*time.Millisecond)

	_, ok := findByText(c.Messages(), "Your itinerary is ready.")
	assert.True(t, ok)
	rec.read(func(r *recorder) {
		require.Len(t, r.completions, 1)
		assert.Equal(t, "Your itinerary is ready.", r.completions[0].Content)
	})
}

func TestStart_ErrorDoesNotDial(t *testing.T) {
	srv := newScriptServer(t)
	c, _ := newController(t, srv, domain.KindProfiling)
	starter := &fakeStarter{err: errors.New("server down")}

	_, err := c.Start(context.Background(), starter, "")
	require.Error(t, err)
	time.Sleep(testDelay)
	assert.Equal(t, int32(0), srv.upgrades.Load())
	assert.Equal(t, domain.StateIdle, c.State())
}

func TestAttach_Validation(t *testing.T) {
	srv := newScriptServer(t)
	c, _ := newController(t, srv, domain.KindProfiling)
	ctx := context.Background()

	err := c.Attach(ctx, domain.Session{ID: "", Kind: domain.KindProfiling}, "")
	assert.ErrorIs(t, err, domain.ErrInvalidSession)

	err = c.Attach(ctx, domain.Session{ID: "b1", Kind: domain.KindBrainstorm}, "")
	assert.ErrorIs(t, err, domain.ErrInvalidSession)

	require.NoError(t, c.Attach(ctx, domain.Session{ID: "s1", Kind: domain.KindProfiling}, ""))
	require.NoError(t, c.Attach(ctx, domain.Session{ID: "s1", Kind: domain.KindProfiling}, ""))
	assert.ErrorIs(t, c.Attach(ctx, domain.Session{ID: "s2", Kind: domain.KindProfiling}, ""), ErrAlreadyStarted)
	srv.next(t)
	assert.Equal(t, int32(1), srv.upgrades.Load())
}

func TestPagination_RevealsOlderHistory(t *testing.T) {
	srv := newScriptServer(t)
	cache := store.NewMemoryThreadCache()
	var history []domain.ChatMessage
	for i := range 5 {
		history = append(history, domain.ChatMessage{
			ID:        string(rune('a' + i)),
			Role:      domain.RoleAssistant,
			Text:      string(rune('A' + i)),
			CreatedAt: time.Now(),
		})
	}
	require.NoError(t, cache.SaveThread(context.Background(), "b1", history))

	cfg := testConfig(srv.URL)
	cfg.Pagination.PageSize = 2
	c, err := New(cfg, domain.KindBrainstorm, logging.New(nil, "silent"), WithPersister(cache))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })

	require.NoError(t, c.Attach(context.Background(), domain.Session{ID: "b1", Kind: domain.KindBrainstorm}, "ignored"))
	visible := c.Visible()
	require.Len(t, visible, 2)
	assert.Equal(t, "d", visible[0].ID)
	assert.Equal(t, "e", visible[1].ID)
	assert.True(t, c.HasMore())

	n, err := c.LoadMore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, c.Visible(), 4)

	n, err = c.LoadMore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, c.Visible(), 5)
	assert.False(t, c.HasMore())

	n, err = c.LoadMore(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	_, ok := findByText(c.Messages(), "ignored")
	assert.False(t, ok, "a restored thread is not reseeded")
}

func TestClose_FlushesAndEndsOnce(t *testing.T) {
	srv := newScriptServer(t)
	cache := store.NewMemoryThreadCache()
	hm := hooks.NewManager(logging.New(nil, "silent"))
	ends := countHook(hm, hooks.EventSessionEnd)

	c, _ := newController(t, srv, domain.KindBrainstorm, WithPersister(cache), WithHooks(hm))
	require.NoError(t, c.Attach(context.Background(), domain.Session{ID: "b1", Kind: domain.KindBrainstorm}, "Welcome!"))
	srv.next(t)
	waitState(t, c, domain.StateOpen)

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, domain.StateClosed, c.State())
	assert.Equal(t, int32(1), ends.Load())

	saved, err := cache.LoadThread(context.Background(), "b1")
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "Welcome!", saved[0].Text)

	list, err := cache.ListThreads(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "brainstorm", list[0].Kind)
}
