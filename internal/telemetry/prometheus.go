package telemetry

import "github.com/prometheus/client_golang/prometheus"

const livelookNamespace string = "livelook"

var (
	promSessionTotal  prometheus.Gauge
	promPeerLinkTotal prometheus.Gauge
	promRelayMembers  prometheus.Gauge

	// SignalingMessages counts messages by direction (in|out) and kind
	SignalingMessages *prometheus.CounterVec
	// SessionTransitions counts lifecycle transitions by target state and reason
	SessionTransitions *prometheus.CounterVec
	ReconnectAttempts  prometheus.Counter
	// ServiceOperationCounter counts public operations by type, status and error kind
	ServiceOperationCounter *prometheus.CounterVec
)

func init() {
	promSessionTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: livelookNamespace,
		Subsystem: "session",
		Name:      "total",
	})

	promPeerLinkTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: livelookNamespace,
		Subsystem: "peer",
		Name:      "links",
	})

	promRelayMembers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: livelookNamespace,
		Subsystem: "relay",
		Name:      "members",
	})

	SignalingMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: livelookNamespace,
			Subsystem: "signaling",
			Name:      "messages",
		},
		[]string{"direction", "kind"},
	)

	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: livelookNamespace,
			Subsystem: "session",
			Name:      "transitions",
		},
		[]string{"state", "reason"},
	)

	ReconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: livelookNamespace,
		Subsystem: "session",
		Name:      "reconnect_attempts",
	})

	ServiceOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: livelookNamespace,
			Subsystem: "session",
			Name:      "operation",
		},
		[]string{"type", "status", "error_type"},
	)

	prometheus.MustRegister(promSessionTotal)
	prometheus.MustRegister(promPeerLinkTotal)
	prometheus.MustRegister(promRelayMembers)
	prometheus.MustRegister(SignalingMessages)
	prometheus.MustRegister(SessionTransitions)
	prometheus.MustRegister(ReconnectAttempts)
	prometheus.MustRegister(ServiceOperationCounter)
}

func SessionStarted() {
	promSessionTotal.Inc()
}

func SessionStopped() {
	promSessionTotal.Dec()
}

func PeerLinkOpened() {
	promPeerLinkTotal.Inc()
}

func PeerLinkClosed() {
	promPeerLinkTotal.Dec()
}

func RelayMemberJoined() {
	promRelayMembers.Inc()
}

func RelayMemberLeft() {
	promRelayMembers.Dec()
}

// Operation records the outcome of a public operation
func Operation(op string, err error) {
	if err == nil {
		ServiceOperationCounter.WithLabelValues(op, "ok", "").Inc()
		return
	}
	ServiceOperationCounter.WithLabelValues(op, "error", err.Error()).Inc()
}
