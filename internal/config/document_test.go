package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitKey(t *testing.T) {
	tests := []struct {
		input   string
		want    []string
		wantErr bool
	}{
		{"user", []string{"user"}, false},
		{"realtime.baseUrl", []string{"realtime", "baseUrl"}, false},
		{"realtime.kinds.planning.endpoint", []string{"realtime", "kinds", "planning", "endpoint"}, false},
		{"devServer.port", []string{"devServer", "port"}, false},
		{"", nil, true},
		{"user..id", nil, true},
		{".user", nil, true},
		{"user.", nil, true},
		{"theme.color", nil, true},
		{"Realtime.baseUrl", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := splitKey(tt.input)
			if tt.wantErr {
				var ce *ConfigError
				assert.ErrorAs(t, err, &ce)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSections(t *testing.T) {
	assert.Equal(t, []string{"api", "devServer", "logging", "pagination", "realtime", "storage", "user"}, sections)
}

func TestOpenDocument_MissingAndEmpty(t *testing.T) {
	dir := t.TempDir()

	d, err := OpenDocument(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)
	_, err = d.Get("user.id")
	assert.ErrorIs(t, err, ErrKeyNotSet)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	d, err = OpenDocument(empty)
	require.NoError(t, err)
	assert.Empty(t, d.root)
}

func TestDocument_GetSetUnset(t *testing.T) {
	d := &Document{root: map[string]any{
		"pagination": map[string]any{"pageSize": 20},
		"user":       "not-a-section",
	}}

	val, err := d.Get("pagination.pageSize")
	require.NoError(t, err)
	assert.Equal(t, 20, val)

	require.NoError(t, d.Set("pagination.pageSize", 40))
	val, _ = d.Get("pagination.pageSize")
	assert.Equal(t, 40, val)

	require.NoError(t, d.Set("realtime.kinds.planning.heartbeatIntervalMs", 5000))
	val, err = d.Get("realtime.kinds.planning.heartbeatIntervalMs")
	require.NoError(t, err)
	assert.Equal(t, 5000, val)

	var ce *ConfigError
	assert.ErrorAs(t, d.Set("user.id", "u-1"), &ce)
	_, err = d.Get("user.id")
	assert.ErrorIs(t, err, ErrKeyNotSet)

	// Emptied sections are pruned.
	require.NoError(t, d.Unset("realtime.kinds.planning.heartbeatIntervalMs"))
	assert.NotContains(t, d.root, "realtime")
	assert.ErrorIs(t, d.Unset("realtime.baseUrl"), ErrKeyNotSet)
	assert.ErrorIs(t, d.Unset("pagination.missing"), ErrKeyNotSet)
	assert.Contains(t, d.root, "pagination")
}

func TestDocument_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	d, err := OpenDocument(path)
	require.NoError(t, err)

	require.NoError(t, d.Set("user.id", "u-1"))
	require.NoError(t, d.Set("realtime.kinds.planning.endpoint", "/ws/plan/{sessionId}"))
	require.NoError(t, d.Save())

	reopened, err := OpenDocument(path)
	require.NoError(t, err)
	val, err := reopened.Get("user.id")
	require.NoError(t, err)
	assert.Equal(t, "u-1", val)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/ws/plan/{sessionId}", cfg.Realtime.Kinds[KindPlanning].Endpoint)
}

func TestDocument_SaveRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
		issue string
	}{
		{"endpoint without session placeholder", "realtime.kinds.planning.endpoint", "/ws", "realtime.kinds.planning.endpoint"},
		{"unknown store", "storage.store", "redis", "storage.store"},
		{"unknown kind", "realtime.kinds.sightseeing.endpoint", "/ws/{sessionId}", "realtime.kinds.sightseeing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			d, err := OpenDocument(path)
			require.NoError(t, err)
			require.NoError(t, d.Set(tt.key, tt.value))

			err = d.Save()
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			require.NotEmpty(t, ve.Issues)
			assert.Equal(t, tt.issue, ve.Issues[0].Path)

			_, statErr := os.Stat(path)
			assert.True(t, os.IsNotExist(statErr), "invalid config must not be written")
		})
	}
}

func TestDocument_SaveRejectsUnreadKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	d, err := OpenDocument(path)
	require.NoError(t, err)

	require.NoError(t, d.Set("devServer.prot", 9100))
	err = d.Save()
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, err.Error(), "prot")

	require.NoError(t, d.Unset("devServer.prot"))
	require.NoError(t, d.Set("pagination.pageSize", "many"))
	assert.ErrorAs(t, d.Save(), &ce)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
