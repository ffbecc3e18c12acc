package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/solforge/service/metrics"
	natspkg "github.com/brojonat/solforge/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// sseBufferSize bounds how many undelivered events one connection may
	// queue before the consumer callback blocks.
	sseBufferSize = 10

	// sseKeepaliveInterval is how often a comment frame goes out to hold
	// idle connections open through proxies.
	sseKeepaliveInterval = 10 * time.Second
)

// SSEPublisher owns the NATS connection that serves Server-Sent Events
// clients. It is separate from the service's publishing connection so a
// slow stream consumer never back-pressures the write path.
type SSEPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSSEPublisher connects to NATS for event streaming.
func NewSSEPublisher(natsURL string, logger *slog.Logger) (*SSEPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("solforge-sse-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	logger.Info("sse stream source connected", "nats_url", natsURL)

	return &SSEPublisher{nc: nc, js: js, logger: logger}, nil
}

// Close drops the NATS connection, which ends every active stream.
func (p *SSEPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("sse stream source closed")
	}
	return nil
}

// handleStreamTransfers streams transfer lifecycle events over SSE. An
// empty address path value streams every wallet; otherwise events are
// filtered to that wallet's subject.
func handleStreamTransfers(publisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := natspkg.StreamSubjects
		wallet := "all"
		if address := r.PathValue("address"); address != "" {
			if err := validateAddress(address); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			subject = natspkg.SubjectFor(address)
			wallet = address
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		// The server's WriteTimeout is sized for JSON responses; clear the
		// deadline so long-lived streams survive it.
		if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
			logger.Debug("failed to clear write deadline", "error", err)
		}
		flusher.Flush()

		if m != nil {
			m.RecordSSEConnectionChange(wallet, 1)
			defer m.RecordSSEConnectionChange(wallet, -1)
		}

		logger.DebugContext(r.Context(), "stream client attached",
			"wallet", wallet,
			"remote_addr", r.RemoteAddr,
		)

		// Each connection gets its own ephemeral consumer; JetStream
		// removes it when the connection goes away. DeliverNew skips
		// history, so clients catch up from the journal, not the stream.
		cons, err := publisher.js.CreateOrUpdateConsumer(r.Context(), natspkg.StreamName, jetstream.ConsumerConfig{
			FilterSubject: subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			DeliverPolicy: jetstream.DeliverNewPolicy,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "ephemeral consumer create failed",
				"wallet", wallet,
				"error", err,
			)
			writeSSEFrame(w, flusher, "error", `{"error": "failed to subscribe"}`)
			return
		}

		msgs := make(chan jetstream.Msg, sseBufferSize)
		done := make(chan struct{})
		go pumpConsumer(r.Context(), cons, msgs, done, logger)

		writeSSEFrame(w, flusher, "connected", fmt.Sprintf(`{"wallet":%q}`, wallet))

		keepalive := time.NewTicker(sseKeepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()

			case msg := <-msgs:
				var event natspkg.TransferEvent
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					logger.WarnContext(r.Context(), "dropping malformed event", "error", err)
					msg.Ack()
					continue
				}

				// Re-marshal from the struct so the frame is one line;
				// SSE framing breaks on embedded newlines.
				data, err := json.Marshal(event)
				if err != nil {
					logger.WarnContext(r.Context(), "event re-marshal failed", "error", err)
					msg.Ack()
					continue
				}

				writeSSEFrame(w, flusher, "transfer", string(data))
				msg.Ack()

				if m != nil {
					m.RecordSSEEventSent(wallet, "transfer")
				}

				logger.DebugContext(r.Context(), "sent transfer event",
					"wallet", wallet,
					"transfer_id", event.TransferID,
					"status", event.Status,
				)

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "stream client detached",
					"wallet", wallet,
					"remote_addr", r.RemoteAddr,
				)
				return

			case <-done:
				return
			}
		}
	})
}

// pumpConsumer runs the JetStream consumer and funnels its messages into
// ch until ctx is canceled. done is closed when the pump stops, whether
// from cancellation or a consume failure.
func pumpConsumer(ctx context.Context, cons jetstream.Consumer, ch chan<- jetstream.Msg, done chan<- struct{}, logger *slog.Logger) {
	defer close(done)

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		select {
		case ch <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		logger.Error("consume loop never started", "error", err)
		return
	}
	defer cc.Stop()

	<-ctx.Done()
}

// writeSSEFrame writes one named SSE event and flushes it.
func writeSSEFrame(w io.Writer, flusher http.Flusher, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}
