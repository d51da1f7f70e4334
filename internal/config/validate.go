package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// Realtime validation
	if issue, ok := validateBaseURL("realtime.baseUrl", cfg.Realtime.BaseURL); !ok {
		issues = append(issues, issue)
	}
	if cfg.Realtime.ReconnectDelayMs < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "realtime.reconnectDelayMs",
			Message: fmt.Sprintf("must not be negative, got %d", cfg.Realtime.ReconnectDelayMs),
		})
	}
	if cfg.Realtime.MinComposingMs < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "realtime.minComposingMs",
			Message: fmt.Sprintf("must not be negative, got %d", cfg.Realtime.MinComposingMs),
		})
	}

	validKinds := []string{KindProfiling, KindBrainstorm, KindPlanning}
	for name, kind := range cfg.Realtime.Kinds {
		prefix := "realtime.kinds." + name
		if !slices.Contains(validKinds, name) {
			issues = append(issues, ValidationIssue{
				Path:    prefix,
				Message: fmt.Sprintf("must be one of %v", validKinds),
			})
			continue
		}
		if kind.Endpoint != "" && !strings.Contains(kind.Endpoint, "{sessionId}") {
			issues = append(issues, ValidationIssue{
				Path:    prefix + ".endpoint",
				Message: "endpoint template must contain {sessionId}",
			})
		}
		if kind.HeartbeatIntervalMs < 0 {
			issues = append(issues, ValidationIssue{
				Path:    prefix + ".heartbeatIntervalMs",
				Message: fmt.Sprintf("must not be negative, got %d", kind.HeartbeatIntervalMs),
			})
		}
		if kind.LivenessTimeoutMs > 0 && kind.HeartbeatIntervalMs > 0 &&
			kind.LivenessTimeoutMs <= kind.HeartbeatIntervalMs {
			issues = append(issues, ValidationIssue{
				Path:    prefix + ".livenessTimeoutMs",
				Message: "must be longer than the heartbeat interval",
			})
		}
		for _, code := range kind.PermanentCloseCodes {
			if code == 1000 || code < 1000 || code > 4999 {
				issues = append(issues, ValidationIssue{
					Path:    prefix + ".permanentCloseCodes",
					Message: fmt.Sprintf("invalid close code %d", code),
				})
			}
		}
	}

	// API validation
	if issue, ok := validateBaseURL("api.baseUrl", cfg.API.BaseURL); !ok {
		issues = append(issues, issue)
	}
	if cfg.API.RetryMax < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "api.retryMax",
			Message: fmt.Sprintf("must not be negative, got %d", cfg.API.RetryMax),
		})
	}

	// Storage validation
	validStores := []string{"sqlite", "memory"}
	if cfg.Storage.Store != "" && !slices.Contains(validStores, cfg.Storage.Store) {
		issues = append(issues, ValidationIssue{
			Path:    "storage.store",
			Message: fmt.Sprintf("must be one of %v, got %q", validStores, cfg.Storage.Store),
		})
	}

	// Pagination validation
	if cfg.Pagination.PageSize < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "pagination.pageSize",
			Message: fmt.Sprintf("must be positive, got %d", cfg.Pagination.PageSize),
		})
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	// Dev server validation
	if cfg.DevServer.Port < 0 || cfg.DevServer.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "devServer.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.DevServer.Port),
		})
	}
	validBinds := []string{"loopback", "lan"}
	if cfg.DevServer.Bind != "" && !slices.Contains(validBinds, cfg.DevServer.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "devServer.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.DevServer.Bind),
		})
	}
	if cfg.DevServer.Questions < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "devServer.questions",
			Message: fmt.Sprintf("must not be negative, got %d", cfg.DevServer.Questions),
		})
	}
	if cfg.DevServer.TokenDelayMs < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "devServer.tokenDelayMs",
			Message: fmt.Sprintf("must not be negative, got %d", cfg.DevServer.TokenDelayMs),
		})
	}

	return issues
}

func validateBaseURL(path, raw string) (ValidationIssue, bool) {
	if raw == "" {
		return ValidationIssue{}, true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ValidationIssue{Path: path, Message: "invalid URL: " + err.Error()}, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ValidationIssue{Path: path, Message: fmt.Sprintf("scheme must be http or https, got %q", u.Scheme)}, false
	}
	if u.Host == "" {
		return ValidationIssue{Path: path, Message: "host is required"}, false
	}
	return ValidationIssue{}, true
}
