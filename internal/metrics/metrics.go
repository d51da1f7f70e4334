// Package metrics exposes Prometheus instrumentation for realtime sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Decoder metrics
	FramesDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wayfarer_frames_decoded_total",
			Help: "Inbound frames decoded, by canonical tag",
		},
		[]string{"tag"},
	)

	DecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wayfarer_decode_errors_total",
			Help: "Inbound frames that failed to decode",
		},
	)

	UnknownTags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wayfarer_unknown_tags_total",
			Help: "Decoded frames with no registered handler",
		},
		[]string{"tag"},
	)

	// Socket metrics
	OpenSockets = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wayfarer_open_sockets",
			Help: "Session sockets currently open",
		},
		[]string{"kind"},
	)

	ReconnectsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wayfarer_reconnects_scheduled_total",
			Help: "Reconnect attempts scheduled after an unexpected close",
		},
		[]string{"kind"},
	)

	TerminalCloses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wayfarer_terminal_closes_total",
			Help: "Closes that ended a session without reconnect",
		},
		[]string{"kind", "code"},
	)

	SendsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wayfarer_sends_dropped_total",
			Help: "Outbound frames dropped because the socket was not open",
		},
		[]string{"kind"},
	)

	// Thread metrics
	ThreadWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wayfarer_thread_writes_total",
			Help: "Debounced thread cache writes",
		},
		[]string{"status"},
	)

	// Dev server metrics
	DevSessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wayfarer_devserver_sessions_started_total",
			Help: "Sessions started on the development server",
		},
		[]string{"kind"},
	)
)
