package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransferEvent is one lifecycle event from the transfer stream. Every
// status change a transfer goes through emits one event.
type TransferEvent struct {
	TransferID    string          `json:"transfer_id"`
	WalletAddress string          `json:"wallet_address"`
	Recipient     string          `json:"recipient"`
	Asset         string          `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`
	Memo          string          `json:"memo,omitempty"`
	Status        string          `json:"status"`
	Signature     string          `json:"signature,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	PublishedAt   time.Time       `json:"published_at"`
}

// Await subscribes to the wallet's transfer event stream and blocks until
// an event satisfies the matcher, the context expires, or the stream ends.
// An empty walletAddress follows every wallet. The matched event is
// returned as soon as it arrives; on timeout or cancellation the context's
// error is returned.
func (c *Client) Await(ctx context.Context, walletAddress string, matcher func(*TransferEvent) bool) (*TransferEvent, error) {
	u := c.baseURL + "/api/v1/stream/transfers"
	if walletAddress != "" {
		u += "/" + url.PathEscape(walletAddress)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The client-wide timeout covers reading the whole body, which would
	// sever a long-lived stream; the context carries the only deadline.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	c.logger.Debug("subscribed to transfer stream", "wallet", walletAddress)

	var eventName string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			eventName = ""
		case strings.HasPrefix(line, ":"):
			// Keepalive comment.
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			switch eventName {
			case "transfer":
				var event TransferEvent
				if err := json.Unmarshal([]byte(data), &event); err != nil {
					c.logger.Warn("skipping undecodable transfer event", "error", err)
					continue
				}
				if matcher(&event) {
					return &event, nil
				}
			case "error":
				var errEvent struct {
					Error string `json:"error"`
				}
				if err := json.Unmarshal([]byte(data), &errEvent); err == nil && errEvent.Error != "" {
					return nil, fmt.Errorf("stream error: %s", errEvent.Error)
				}
				return nil, fmt.Errorf("stream error: %s", data)
			}
		}
	}

	// Cancellation surfaces as a read error on the body; report the
	// context's error so callers can tell a timeout from a dropped stream.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream read failed: %w", err)
	}
	return nil, fmt.Errorf("stream ended before a matching transfer")
}
