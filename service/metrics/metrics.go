// Package metrics holds the Prometheus collectors for the service.
// A single Metrics value is created at startup and handed to every
// component that records; a nil Metrics disables recording.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the collector catalog for the transfer pipeline and its
// supporting infrastructure.
type Metrics struct {
	// Transfer pipeline
	transfersAssembledTotal    *prometheus.CounterVec
	transactionsSignedTotal    *prometheus.CounterVec
	transactionsBroadcastTotal *prometheus.CounterVec
	confirmationDuration       *prometheus.HistogramVec
	simulatedComputeUnits      *prometheus.HistogramVec
	priorityFeeMicroLamports   *prometheus.HistogramVec

	// Solana RPC
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec

	// Durable submission workflows
	submitWorkflowDuration        *prometheus.HistogramVec
	submitWorkflowExecutionsTotal *prometheus.CounterVec
	submitActivityDuration        *prometheus.HistogramVec

	// HTTP API and SSE fan-out
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// Journal database
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// NATS lifecycle events
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics registers every collector with the given registry and
// returns the catalog. A nil registry means prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		transfersAssembledTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_assembled_total",
				Help: "Transfer transactions assembled, by asset and signing mode",
			},
			[]string{"asset", "mode"},
		),
		transactionsSignedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_signed_total",
				Help: "Signing attempts, by signer type and outcome",
			},
			[]string{"signer", "status"},
		),
		transactionsBroadcastTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_broadcast_total",
				Help: "Transactions handed to sendTransaction, by outcome",
			},
			[]string{"status"},
		),
		confirmationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transaction_confirmation_duration_seconds",
				Help:    "Time from broadcast to finalized confirmation",
				Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 90, 120},
			},
			[]string{"status"},
		),
		simulatedComputeUnits: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transaction_simulated_compute_units",
				Help:    "Compute units consumed by draft simulation",
				Buckets: []float64{5_000, 10_000, 25_000, 50_000, 100_000, 200_000, 400_000, 800_000, 1_400_000},
			},
			[]string{"endpoint"},
		),
		priorityFeeMicroLamports: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "priority_fee_micro_lamports",
				Help:    "Compute unit price applied to assembled transactions",
				Buckets: []float64{100, 1_000, 10_000, 50_000, 100_000, 500_000, 1_000_000, 5_000_000},
			},
			[]string{"provider"},
		),

		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Solana RPC calls, by method and outcome",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Solana RPC round-trip time",
				Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "endpoint"},
		),

		submitWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				// The upper buckets track the confirmation timeout: a
				// workflow that outlives it is waiting on the reconciler.
				Name:    "submit_workflow_duration_seconds",
				Help:    "End-to-end duration of the durable submission workflow",
				Buckets: []float64{1, 5, 15, 30, 60, 90, 120, 300},
			},
			[]string{"wallet_address", "status"},
		),
		submitWorkflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "submit_workflow_executions_total",
				Help: "Durable submission workflow executions, by outcome",
			},
			[]string{"wallet_address", "status"},
		),
		submitActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "submit_activity_duration_seconds",
				Help:    "Duration of individual submission activities",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"activity", "wallet_address"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency, by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "HTTP requests served, by route and status class",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Open SSE connections, by wallet filter",
			},
			[]string{"wallet_address"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "SSE events written to clients",
			},
			[]string{"wallet_address", "event_type"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Journal query latency",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Journal operations, by outcome",
			},
			[]string{"operation", "status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Lifecycle events published to JetStream",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "JetStream publish latency",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.025, 0.1, 0.25, 1},
			},
			[]string{"subject"},
		),
	}
}

// RecordTransferAssembled records an assembled transfer transaction.
// Mode is "signed" or "unsigned" depending on whether the artifact
// carries a real signature or a placeholder.
func (m *Metrics) RecordTransferAssembled(asset, mode string) {
	m.transfersAssembledTotal.WithLabelValues(asset, mode).Inc()
}

// RecordTransactionSigned records a signing attempt by signer type
// ("local" or "delegated").
func (m *Metrics) RecordTransactionSigned(signer, status string) {
	m.transactionsSignedTotal.WithLabelValues(signer, status).Inc()
}

// RecordTransactionBroadcast records a broadcast attempt.
func (m *Metrics) RecordTransactionBroadcast(status string) {
	m.transactionsBroadcastTotal.WithLabelValues(status).Inc()
}

// RecordConfirmationDuration records time from broadcast to finalization.
func (m *Metrics) RecordConfirmationDuration(status string, duration float64) {
	m.confirmationDuration.WithLabelValues(status).Observe(duration)
}

// RecordSimulatedComputeUnits records compute units consumed by simulation.
func (m *Metrics) RecordSimulatedComputeUnits(endpoint string, units float64) {
	m.simulatedComputeUnits.WithLabelValues(endpoint).Observe(units)
}

// RecordPriorityFee records the compute unit price applied to a transaction.
func (m *Metrics) RecordPriorityFee(provider string, microLamports float64) {
	m.priorityFeeMicroLamports.WithLabelValues(provider).Observe(microLamports)
}

// RecordRPCCall records one Solana RPC round trip.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordWorkflowDuration records one submission workflow execution.
func (m *Metrics) RecordWorkflowDuration(walletAddress, status string, duration float64) {
	m.submitWorkflowDuration.WithLabelValues(walletAddress, status).Observe(duration)
	m.submitWorkflowExecutionsTotal.WithLabelValues(walletAddress, status).Inc()
}

// RecordActivityDuration records one activity execution.
func (m *Metrics) RecordActivityDuration(activity, walletAddress string, duration float64) {
	m.submitActivityDuration.WithLabelValues(activity, walletAddress).Observe(duration)
}

// RecordHTTPRequest records a served request. The status label is the
// class ("2xx"), not the exact code, to keep cardinality flat.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusClass(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange moves the open-connection gauge by delta.
func (m *Metrics) RecordSSEConnectionChange(walletAddress string, delta float64) {
	m.sseActiveConnections.WithLabelValues(walletAddress).Add(delta)
}

// RecordSSEEventSent records one event written to an SSE client.
func (m *Metrics) RecordSSEEventSent(walletAddress, eventType string) {
	m.sseEventsSent.WithLabelValues(walletAddress, eventType).Inc()
}

// RecordDBQuery records one journal query.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordNATSPublish records one JetStream publish.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// statusClass collapses a status code to its class.
func statusClass(code int) string {
	if code < 100 || code >= 600 {
		return "unknown"
	}
	return [...]string{"1xx", "2xx", "3xx", "4xx", "5xx"}[code/100-1]
}
