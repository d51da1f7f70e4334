package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Session tests ---

func TestParseSessionKind(t *testing.T) {
	tests := []struct {
		input   string
		want    SessionKind
		wantErr bool
	}{
		{"profiling", KindProfiling, false},
		{"Brainstorm", KindBrainstorm, false},
		{" planning ", KindPlanning, false},
		{"itinerary", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSessionKind(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSessionValidate(t *testing.T) {
	tests := []struct {
		name    string
		session Session
		wantErr bool
	}{
		{"valid", Session{ID: "s1", Kind: KindProfiling}, false},
		{"planning with user", Session{ID: "abc-123", Kind: KindPlanning, UserID: "u1"}, false},
		{"empty id", Session{Kind: KindProfiling}, true},
		{"slash in id", Session{ID: "a/b", Kind: KindBrainstorm}, true},
		{"query in id", Session{ID: "a?x=1", Kind: KindBrainstorm}, true},
		{"unknown kind", Session{ID: "s1", Kind: "chat"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.session.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSession)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConnectionStateActive(t *testing.T) {
	assert.True(t, StateConnecting.Active())
	assert.True(t, StateOpen.Active())
	assert.False(t, StateIdle.Active())
	assert.False(t, StateClosing.Active())
	assert.False(t, StateClosed.Active())
}

// --- Decision tests ---

func TestRate(t *testing.T) {
	for n := MinRating; n <= MaxRating; n++ {
		d, err := Rate(n)
		require.NoError(t, err)
		assert.Equal(t, DecisionRated, d.State)
		assert.Equal(t, n, d.Rating)
	}

	_, err := Rate(0)
	assert.ErrorIs(t, err, ErrInvalidDecision)
	_, err = Rate(4)
	assert.ErrorIs(t, err, ErrInvalidDecision)
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision("reject")
	require.NoError(t, err)
	assert.Equal(t, Reject(), d)

	d, err = ParseDecision("2")
	require.NoError(t, err)
	assert.Equal(t, "rated(2)", d.String())

	_, err = ParseDecision("great")
	assert.ErrorIs(t, err, ErrInvalidDecision)
}

func TestDecisionValidate(t *testing.T) {
	assert.NoError(t, Pending().Validate())
	assert.NoError(t, Reject().Validate())
	assert.Error(t, Decision{State: DecisionRejected, Rating: 2}.Validate())
	assert.Error(t, Decision{}.Validate())
	assert.Error(t, Decision{State: "maybe"}.Validate())
}

func TestDecisionIsPending(t *testing.T) {
	assert.True(t, Decision{}.IsPending())
	assert.True(t, Pending().IsPending())
	assert.False(t, Reject().IsPending())
	assert.Equal(t, "pending", Decision{}.String())
}

// --- ChatMessage tests ---

func TestChatMessageClone(t *testing.T) {
	orig := ChatMessage{
		ID:           "m1",
		Role:         RoleAssistant,
		QuickReplies: []QuickReply{{Label: "Yes"}},
		Proposals:    []Proposal{{ID: "p1", Decision: Pending()}},
	}

	c := orig.Clone()
	c.Proposals[0].Decision = Reject()
	c.QuickReplies[0].Label = "No"

	assert.True(t, orig.Proposals[0].Decision.IsPending())
	assert.Equal(t, "Yes", orig.QuickReplies[0].Label)
}

func TestChatMessageTerminal(t *testing.T) {
	assert.False(t, ChatMessage{Status: StatusSending}.Terminal())
	assert.True(t, ChatMessage{Status: StatusSent}.Terminal())
	assert.True(t, ChatMessage{Status: StatusError}.Terminal())
	assert.True(t, ChatMessage{Role: RoleAssistant}.Terminal())
}

func TestChatMessageJSON_OmitsEmpty(t *testing.T) {
	msg := ChatMessage{ID: "m1", Role: RoleAssistant, CreatedAt: time.Unix(0, 0).UTC()}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	raw := string(data)
	assert.NotContains(t, raw, "status")
	assert.NotContains(t, raw, "clientId")
	assert.NotContains(t, raw, "proposals")
	assert.NotContains(t, raw, "quickReplies")
}

func TestProposalJSON(t *testing.T) {
	rated, err := Rate(3)
	require.NoError(t, err)
	p := Proposal{ID: "p1", Kind: ProposalAttraction, Name: "Alhambra", Decision: rated}

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"decision":{"state":"rated","rating":3}`)

	var decoded Proposal
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, p, decoded)
}
