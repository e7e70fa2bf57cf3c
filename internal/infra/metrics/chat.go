// File: internal/infra/metrics/chat.go
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "whisper_sessions_active",
			Help: "Number of currently connected SSH chat sessions.",
		},
	)

	sessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whisper_sessions_total",
			Help: "Total sessions accepted since start.",
		},
	)

	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whisper_messages_sent_total",
			Help: "Messages published to the overlay, by message type.",
		},
		[]string{"type"},
	)

	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whisper_messages_received_total",
			Help: "Messages accepted from the overlay, by message type.",
		},
		[]string{"type"},
	)

	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whisper_rate_limited_total",
			Help: "Sends rejected by the per-session sliding window.",
		},
	)

	publishErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whisper_publish_errors_total",
			Help: "Overlay publish failures surfaced to users.",
		},
	)
)

func init() {
	register(sessionsActive, sessionsTotal, messagesSent, messagesReceived, rateLimited, publishErrors)
}

func SessionStarted() {
	sessionsTotal.Inc()
	sessionsActive.Inc()
}

func SessionEnded() { sessionsActive.Dec() }

func MessageSent(typ string) { messagesSent.WithLabelValues(typ).Inc() }

func MessageReceived(typ string) { messagesReceived.WithLabelValues(typ).Inc() }

func RateLimited() { rateLimited.Inc() }

func PublishError() { publishErrors.Inc() }
