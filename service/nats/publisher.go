// Package nats publishes transfer lifecycle events to JetStream. Every
// journal status change emits one event on the originating wallet's
// subject; the SSE bridge and the CLI tail command consume them.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StreamName is the JetStream stream holding transfer events.
	StreamName = "TRANSFERS"

	// StreamSubjects is the stream's subject space, one subject per wallet.
	StreamSubjects = "transfers.*"

	// StreamRetention bounds how long events stay replayable. The journal
	// is the source of truth; the stream is a 30-day window onto it.
	StreamRetention = 30 * 24 * time.Hour
)

// SubjectFor returns the subject a wallet's transfer events publish to.
func SubjectFor(walletAddress string) string {
	return "transfers." + walletAddress
}

// Publisher emits transfer lifecycle events. Publishing is best effort
// for callers: a failed publish is logged and the journal remains
// authoritative.
type Publisher interface {
	PublishTransfer(ctx context.Context, event *TransferEvent) error
	PublishTransferBatch(ctx context.Context, events []*TransferEvent) error
	Close() error
}

// JetStreamPublisher is the production Publisher. One connection serves
// the whole process; the SSE bridge holds its own so slow stream
// consumers never share a connection with publishing.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewPublisher connects to NATS and ensures the transfer stream exists
// with the expected configuration. An existing stream is updated to
// match rather than left as found.
func NewPublisher(natsURL string, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("solforge-publisher"),
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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Transfer lifecycle events from the transaction service",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", StreamName, err)
	}

	logger.Info("NATS publisher initialized", "url", natsURL, "stream", StreamName)

	return &JetStreamPublisher{nc: nc, js: js, logger: logger}, nil
}

// PublishTransfer publishes one lifecycle event to the wallet's subject.
func (p *JetStreamPublisher) PublishTransfer(ctx context.Context, event *TransferEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal transfer event: %w", err)
	}

	subject := SubjectFor(event.WalletAddress)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish transfer event: %w", err)
	}

	p.logger.Debug("published transfer event",
		"subject", subject,
		"transfer_id", event.TransferID,
		"status", event.Status,
	)
	return nil
}

// PublishTransferBatch publishes a batch of events. A failed event is
// logged and skipped so it cannot hold back the rest of the batch.
func (p *JetStreamPublisher) PublishTransferBatch(ctx context.Context, events []*TransferEvent) error {
	var failed int
	for _, event := range events {
		if err := p.PublishTransfer(ctx, event); err != nil {
			failed++
			p.logger.Error("failed to publish transfer event in batch",
				"transfer_id", event.TransferID,
				"wallet", event.WalletAddress,
				"error", err,
			)
		}
	}

	p.logger.Debug("published transfer event batch",
		"published", len(events)-failed,
		"failed", failed,
	)
	return nil
}

// Close drains the NATS connection. Pending publishes are flushed by
// the client before the socket drops.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("event publisher closed")
	}
	return nil
}
