package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_ValidDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_BaseURL(t *testing.T) {
	tests := []struct {
		name  string
		url   string
		valid bool
	}{
		{"http", "http://localhost:8000", true},
		{"https", "https://trips.example.com", true},
		{"empty", "", true},
		{"ws scheme", "ws://localhost:8000", false},
		{"no host", "http://", false},
		{"garbage", "://bad", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Realtime.BaseURL = tt.url
			issues := Validate(&cfg)
			if tt.valid {
				assert.Empty(t, issues)
			} else {
				require.NotEmpty(t, issues)
				assert.Equal(t, "realtime.baseUrl", issues[0].Path)
			}
		})
	}
}

func TestValidate_UnknownKind(t *testing.T) {
	cfg := Defaults()
	cfg.Realtime.Kinds["itinerary"] = KindSettings{Endpoint: "/ws/x/{sessionId}"}
	issues := Validate(&cfg)
	require.Len(t, issues, 1)
	assert.Equal(t, "realtime.kinds.itinerary", issues[0].Path)
}

func TestValidate_EndpointNeedsSessionID(t *testing.T) {
	cfg := Defaults()
	k := cfg.Realtime.Kinds[KindBrainstorm]
	k.Endpoint = "/ws/brainstorm"
	cfg.Realtime.Kinds[KindBrainstorm] = k

	issues := Validate(&cfg)
	require.Len(t, issues, 1)
	assert.Equal(t, "realtime.kinds.brainstorm.endpoint", issues[0].Path)
}

func TestValidate_LivenessShorterThanHeartbeat(t *testing.T) {
	cfg := Defaults()
	k := cfg.Realtime.Kinds[KindPlanning]
	k.LivenessTimeoutMs = 1000
	cfg.Realtime.Kinds[KindPlanning] = k

	issues := Validate(&cfg)
	require.Len(t, issues, 1)
	assert.Equal(t, "realtime.kinds.planning.livenessTimeoutMs", issues[0].Path)
}

func TestValidate_PermanentCloseCodes(t *testing.T) {
	for _, code := range []int{1000, 999, 5000} {
		cfg := Defaults()
		k := cfg.Realtime.Kinds[KindProfiling]
		k.PermanentCloseCodes = []int{code}
		cfg.Realtime.Kinds[KindProfiling] = k
		issues := Validate(&cfg)
		require.Len(t, issues, 1, "code %d", code)
		assert.Equal(t, "realtime.kinds.profiling.permanentCloseCodes", issues[0].Path)
	}
}

func TestValidate_NegativeDurations(t *testing.T) {
	cfg := Defaults()
	cfg.Realtime.ReconnectDelayMs = -1
	cfg.Realtime.MinComposingMs = -1
	cfg.API.RetryMax = -1
	cfg.Pagination.PageSize = -5

	var paths []string
	for _, i := range Validate(&cfg) {
		paths = append(paths, i.Path)
	}
	assert.ElementsMatch(t, []string{
		"realtime.reconnectDelayMs",
		"realtime.minComposingMs",
		"api.retryMax",
		"pagination.pageSize",
	}, paths)
}

func TestValidate_Logging(t *testing.T) {
	cfg := Defaults()
	cfg.Logging.Level = "verbose"
	cfg.Logging.ConsoleStyle = "compact"

	issues := Validate(&cfg)
	require.Len(t, issues, 2)
	assert.Equal(t, "logging.level", issues[0].Path)
	assert.Equal(t, "logging.consoleStyle", issues[1].Path)
}

func TestValidate_DevServer(t *testing.T) {
	cfg := Defaults()
	cfg.DevServer.Port = 70000
	cfg.DevServer.Bind = "tailnet"

	issues := Validate(&cfg)
	require.Len(t, issues, 2)
	assert.Equal(t, "devServer.port", issues[0].Path)
	assert.Equal(t, "devServer.bind", issues[1].Path)
}

func TestValidationIssue_String(t *testing.T) {
	issue := ValidationIssue{Path: "storage.store", Message: "bad"}
	assert.Equal(t, "storage.store: bad", issue.String())
}
