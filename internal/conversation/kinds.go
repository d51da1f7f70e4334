package conversation

import (
	"fmt"
	"time"

	"github.com/soyeahso/wayfarer/internal/config"
	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/protocol"
	"github.com/soyeahso/wayfarer/internal/socket"
)

// Profile is everything that differs between session kinds. The socket
// lifecycle itself is shared.
type Profile struct {
	Kind                domain.SessionKind
	Endpoint            string
	FrameType           string
	Aliases             map[string]string
	IncludeUserID       bool
	HeartbeatInterval   time.Duration
	LivenessTimeout     time.Duration
	PermanentCloseCodes []int
}

// KindProfile resolves the per-kind settings from config. Profiling answers
// go out as user_answer frames; the other kinds send plain messages. Planning
// sockets carry the user id.
func KindProfile(cfg config.RealtimeConfig, kind domain.SessionKind) (Profile, error) {
	if _, err := domain.ParseSessionKind(string(kind)); err != nil {
		return Profile{}, err
	}
	ks, ok := cfg.Kinds[string(kind)]
	if !ok {
		ks, ok = config.DefaultKinds()[string(kind)]
	}
	if !ok || ks.Endpoint == "" {
		return Profile{}, &config.ConfigError{Message: fmt.Sprintf("no endpoint configured for %s sessions", kind)}
	}

	p := Profile{
		Kind:                kind,
		Endpoint:            ks.Endpoint,
		FrameType:           protocol.FrameTypeMessage,
		Aliases:             ks.Aliases,
		IncludeUserID:       kind == domain.KindPlanning,
		HeartbeatInterval:   time.Duration(ks.HeartbeatIntervalMs) * time.Millisecond,
		LivenessTimeout:     time.Duration(ks.LivenessTimeoutMs) * time.Millisecond,
		PermanentCloseCodes: ks.PermanentCloseCodes,
	}
	if kind == domain.KindProfiling {
		p.FrameType = protocol.FrameTypeUserAnswer
	}
	return p, nil
}

// SocketConfig builds the socket manager settings for this kind.
func (p Profile) SocketConfig(cfg config.RealtimeConfig) socket.Config {
	return socket.Config{
		BaseURL:             cfg.BaseURL,
		Endpoint:            p.Endpoint,
		IncludeUserID:       p.IncludeUserID,
		ReconnectDelay:      time.Duration(cfg.ReconnectDelayMs) * time.Millisecond,
		HeartbeatInterval:   p.HeartbeatInterval,
		LivenessTimeout:     p.LivenessTimeout,
		HandshakeTimeout:    time.Duration(cfg.HandshakeTimeoutMs) * time.Millisecond,
		PermanentCloseCodes: p.PermanentCloseCodes,
	}
}
