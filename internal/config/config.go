package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Session kinds known to the client.
const (
	KindProfiling  = "profiling"
	KindBrainstorm = "brainstorm"
	KindPlanning   = "planning"
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	cfg := Config{
		Realtime: RealtimeConfig{
			BaseURL:            "http://localhost:8000",
			ReconnectDelayMs:   3000,
			MinComposingMs:     400,
			HandshakeTimeoutMs: 10000,
		},
		API: APIConfig{
			BaseURL:   "http://localhost:8000",
			TimeoutMs: 15000,
			RetryMax:  2,
		},
		Storage: StorageConfig{
			Store:      "sqlite",
			DebounceMs: 500,
		},
		Pagination: PaginationConfig{
			PageSize:    20,
			LoadDelayMs: 300,
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
		DevServer: DevServerConfig{
			Port:         8000,
			Bind:         "loopback",
			Questions:    4,
			TokenDelayMs: 40,
		},
	}
	cfg.Realtime.Kinds = DefaultKinds()
	return cfg
}

// DefaultKinds returns the built-in per-kind socket settings.
func DefaultKinds() map[string]KindSettings {
	return map[string]KindSettings{
		KindProfiling: {
			Endpoint:            "/ws/profiling/{sessionId}",
			PermanentCloseCodes: []int{1008},
			Aliases: map[string]string{
				"profiling_message":    "message",
				"profiling_token":      "token",
				"profiling_thinking":   "thinking",
				"profiling_progress":   "progress",
				"profiling_validation": "validation",
				"profiling_complete":   "complete",
				"profiling_error":      "error",
			},
		},
		KindBrainstorm: {
			Endpoint:            "/ws/brainstorm/{sessionId}",
			PermanentCloseCodes: []int{1008},
		},
		KindPlanning: {
			Endpoint:            "/ws/planning/{sessionId}",
			HeartbeatIntervalMs: 30000,
			LivenessTimeoutMs:   75000,
			PermanentCloseCodes: []int{1008, 1011},
		},
	}
}
