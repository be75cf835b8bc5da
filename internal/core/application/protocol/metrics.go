package protocol

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
	resultRefused = "refused"
)

var (
	pipelineCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "protocol",
			Name:      "pipelines_total",
			Help:      "Number of protocol pipelines by role, operation and result.",
		},
		[]string{"role", "operation", "result"},
	)
	resendCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "protocol",
			Name:      "resends_total",
			Help:      "Number of messages resent for missing acks.",
		},
		[]string{"message"},
	)
	depositRelayCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "protocol",
			Name:      "deposit_relays_total",
			Help:      "Number of deposit tx relays performed by the arbitrator.",
		},
		[]string{"result"},
	)
	tradeCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "protocol",
			Name:      "trades_closed_total",
			Help:      "Number of trades completed or failed by role.",
		},
		[]string{"role", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		pipelineCounter, resendCounter, depositRelayCounter, tradeCounter,
	)
}
