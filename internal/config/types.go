package config

// Config is the root configuration for the wayfarer client.
type Config struct {
	User       UserConfig       `yaml:"user,omitempty"`
	Realtime   RealtimeConfig   `yaml:"realtime,omitempty"`
	API        APIConfig        `yaml:"api,omitempty"`
	Storage    StorageConfig    `yaml:"storage,omitempty"`
	Pagination PaginationConfig `yaml:"pagination,omitempty"`
	Logging    LoggingConfig    `yaml:"logging,omitempty"`
	DevServer  DevServerConfig  `yaml:"devServer,omitempty"`
}

// UserConfig identifies the local user. The id is carried on planning sockets.
type UserConfig struct {
	ID          string `yaml:"id,omitempty"`
	DisplayName string `yaml:"displayName,omitempty"`
}

// RealtimeConfig controls the session sockets.
type RealtimeConfig struct {
	BaseURL            string                  `yaml:"baseUrl,omitempty"` // http(s)://host:port; scheme picks ws/wss
	ReconnectDelayMs   int                     `yaml:"reconnectDelayMs,omitempty"`
	MinComposingMs     int                     `yaml:"minComposingMs,omitempty"`
	HandshakeTimeoutMs int                     `yaml:"handshakeTimeoutMs,omitempty"`
	Kinds              map[string]KindSettings `yaml:"kinds,omitempty"` // keyed by "profiling" | "brainstorm" | "planning"
}

// KindSettings overrides per-session-kind socket behavior.
type KindSettings struct {
	Endpoint            string            `yaml:"endpoint,omitempty"` // path template containing {sessionId}
	HeartbeatIntervalMs int               `yaml:"heartbeatIntervalMs,omitempty"`
	LivenessTimeoutMs   int               `yaml:"livenessTimeoutMs,omitempty"`
	PermanentCloseCodes []int             `yaml:"permanentCloseCodes,omitempty"`
	Aliases             map[string]string `yaml:"aliases,omitempty"` // wire tag -> canonical tag
}

// APIConfig controls the REST collaborator.
type APIConfig struct {
	BaseURL   string `yaml:"baseUrl,omitempty"`
	TimeoutMs int    `yaml:"timeoutMs,omitempty"`
	RetryMax  int    `yaml:"retryMax,omitempty"`
}

// StorageConfig controls the local thread cache.
type StorageConfig struct {
	Store      string `yaml:"store,omitempty"` // "sqlite" | "memory"
	Path       string `yaml:"path,omitempty"`  // defaults to <data>/wayfarer.db
	DebounceMs int    `yaml:"debounceMs,omitempty"`
}

// PaginationConfig controls the visible window of a thread.
type PaginationConfig struct {
	PageSize    int `yaml:"pageSize,omitempty"`
	LoadDelayMs int `yaml:"loadDelayMs,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}

// DevServerConfig controls the scripted development server.
type DevServerConfig struct {
	Port           int      `yaml:"port,omitempty"`
	Bind           string   `yaml:"bind,omitempty"` // "loopback" | "lan"
	Questions      int      `yaml:"questions,omitempty"`
	TokenDelayMs   int      `yaml:"tokenDelayMs,omitempty"`
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}
