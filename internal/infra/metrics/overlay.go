// File: internal/infra/metrics/overlay.go
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	overlayPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "whisper_overlay_peers",
			Help: "Current number of overlay connections.",
		},
	)

	topicsSubscribed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "whisper_topics_subscribed",
			Help: "Room topics the node is currently subscribed to.",
		},
	)

	badPayloads = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whisper_bad_payloads_total",
			Help: "Overlay payloads dropped because they failed to decode.",
		},
	)
)

func init() {
	register(overlayPeers, topicsSubscribed, badPayloads)
}

func SetOverlayPeers(n int) { overlayPeers.Set(float64(n)) }

func TopicJoined() { topicsSubscribed.Inc() }

func TopicLeft() { topicsSubscribed.Dec() }

func BadPayload() { badPayloads.Inc() }
