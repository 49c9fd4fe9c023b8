package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registerer is the subset of a Prometheus registry used to install collectors.
type Registerer interface {
	MustRegister(...prometheus.Collector)
}

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "detpay_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "gateway"},
		},
		[]string{"date", "sha", "version"},
	)

	configFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detpay_config_fetches_total",
			Help: "Client configuration fetches by outcome",
		},
		[]string{"outcome"},
	)

	bridgeMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detpay_bridge_messages_total",
			Help: "Inbound bridge messages by result",
		},
		[]string{"result"},
	)

	bridgePosts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detpay_bridge_posts_total",
			Help: "Outbound bridge messages by result",
		},
		[]string{"result"},
	)

	surfaceStates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detpay_surface_transitions_total",
			Help: "Surface state transitions",
		},
		[]string{"kind", "state"},
	)

	redirects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detpay_redirects_total",
			Help: "Redirect submissions by outcome",
		},
		[]string{"method", "outcome"},
	)

	surfacesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "detpay_surfaces_active",
			Help: "Surfaces currently attached",
		},
	)
)

// Register installs every gateway collector on r.
func Register(r Registerer) {
	r.MustRegister(buildInfo, configFetches, bridgeMessages, bridgePosts, surfaceStates, redirects, surfacesActive)
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// RecordConfigFetch counts one configuration fetch.
func RecordConfigFetch(success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	configFetches.WithLabelValues(outcome).Inc()
}

// RecordBridgeMessage counts one inbound message; result is "accepted" or the
// rejection reason.
func RecordBridgeMessage(result string) {
	bridgeMessages.WithLabelValues(result).Inc()
}

// RecordBridgePost counts one outbound post attempt.
func RecordBridgePost(result string) {
	bridgePosts.WithLabelValues(result).Inc()
}

// RecordSurfaceState counts a transition of a surface of the given kind.
func RecordSurfaceState(kind, state string) {
	surfaceStates.WithLabelValues(kind, state).Inc()
}

// RecordRedirect counts a redirect submission; outcome is "submitted" or "cancelled".
func RecordRedirect(method, outcome string) {
	redirects.WithLabelValues(method, outcome).Inc()
}

// SurfaceAttached adjusts the active surface gauge.
func SurfaceAttached() { surfacesActive.Inc() }

// SurfaceDetached adjusts the active surface gauge.
func SurfaceDetached() { surfacesActive.Dec() }
