// Package notify delivers merchant callbacks over HTTP.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const requestTimeout = 10 * time.Second

// CallbackMessage is the webhook payload merchants already parse, so the
// tradeNo key is part of the wire contract. Status is the order's terminal
// state, PAID or EXPIRED.
type CallbackMessage struct {
	TradeNo string `json:"tradeNo"`
	Status  string `json:"status"`
}

// Sender posts callback messages to merchant notify URLs. Any 2xx response
// counts as delivered.
type Sender struct {
	httpClient *http.Client
}

func NewSender() *Sender {
	return &Sender{httpClient: &http.Client{Timeout: requestTimeout}}
}

// Send posts the message and returns nil only on a 2xx response.
func (s *Sender) Send(ctx context.Context, notifyURL string, msg CallbackMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal callback message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, notifyURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	return nil
}
