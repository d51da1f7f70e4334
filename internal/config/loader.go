package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandReferences processes environment variable references in fields that
// commonly differ per machine, so a shared config can point at ${WAYFARER_HOST}.
func expandReferences(cfg *Config) {
	cfg.Realtime.BaseURL = expandEnvVars(cfg.Realtime.BaseURL)
	cfg.API.BaseURL = expandEnvVars(cfg.API.BaseURL)
	cfg.User.ID = expandEnvVars(cfg.User.ID)
	cfg.Storage.Path = expandEnvVars(cfg.Storage.Path)
	cfg.Logging.File = expandEnvVars(cfg.Logging.File)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := decode(data, &cfg, false); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandReferences(&cfg)
	return cfg, nil
}

// decode parses yaml over cfg. Strict decoding rejects keys no field reads.
func decode(data []byte, cfg *Config, strict bool) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(strict)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	return nil
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	def := Defaults()

	if cfg.Realtime.BaseURL == "" {
		cfg.Realtime.BaseURL = def.Realtime.BaseURL
	}
	if cfg.Realtime.ReconnectDelayMs == 0 {
		cfg.Realtime.ReconnectDelayMs = def.Realtime.ReconnectDelayMs
	}
	if cfg.Realtime.MinComposingMs == 0 {
		cfg.Realtime.MinComposingMs = def.Realtime.MinComposingMs
	}
	if cfg.Realtime.HandshakeTimeoutMs == 0 {
		cfg.Realtime.HandshakeTimeoutMs = def.Realtime.HandshakeTimeoutMs
	}
	if cfg.Realtime.Kinds == nil {
		cfg.Realtime.Kinds = map[string]KindSettings{}
	}
	for name, builtin := range DefaultKinds() {
		cfg.Realtime.Kinds[name] = mergeKind(cfg.Realtime.Kinds[name], builtin)
	}

	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = def.API.BaseURL
	}
	if cfg.API.TimeoutMs == 0 {
		cfg.API.TimeoutMs = def.API.TimeoutMs
	}
	if cfg.Storage.Store == "" {
		cfg.Storage.Store = def.Storage.Store
	}
	if cfg.Storage.DebounceMs == 0 {
		cfg.Storage.DebounceMs = def.Storage.DebounceMs
	}
	if cfg.Pagination.PageSize == 0 {
		cfg.Pagination.PageSize = def.Pagination.PageSize
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = def.Logging.ConsoleStyle
	}
	if cfg.DevServer.Port == 0 {
		cfg.DevServer.Port = def.DevServer.Port
	}
	if cfg.DevServer.Bind == "" {
		cfg.DevServer.Bind = def.DevServer.Bind
	}
	if cfg.DevServer.Questions == 0 {
		cfg.DevServer.Questions = def.DevServer.Questions
	}
	if cfg.DevServer.TokenDelayMs == 0 {
		cfg.DevServer.TokenDelayMs = def.DevServer.TokenDelayMs
	}
}

// mergeKind fills the unset fields of a user-supplied kind entry from the
// built-in entry. A partially written kind keeps the built-in aliases.
func mergeKind(user, builtin KindSettings) KindSettings {
	if user.Endpoint == "" {
		user.Endpoint = builtin.Endpoint
	}
	if user.HeartbeatIntervalMs == 0 {
		user.HeartbeatIntervalMs = builtin.HeartbeatIntervalMs
	}
	if user.LivenessTimeoutMs == 0 {
		user.LivenessTimeoutMs = builtin.LivenessTimeoutMs
	}
	if user.PermanentCloseCodes == nil {
		user.PermanentCloseCodes = builtin.PermanentCloseCodes
	}
	if user.Aliases == nil {
		user.Aliases = builtin.Aliases
	}
	return user
}

// applyEnvOverrides reads WAYFARER_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WAYFARER_REALTIME_URL"); v != "" {
		cfg.Realtime.BaseURL = v
	}
	if v := os.Getenv("WAYFARER_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("WAYFARER_USER_ID"); v != "" {
		cfg.User.ID = v
	}
	if v := os.Getenv("WAYFARER_STORE"); v != "" {
		cfg.Storage.Store = strings.ToLower(v)
	}
	if v := os.Getenv("WAYFARER_RECONNECT_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Realtime.ReconnectDelayMs = ms
		}
	}
	if v := os.Getenv("WAYFARER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}
