// Package payment предоставляет клиент платёжного шлюза.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrIntentNotFound возвращается, если платёж с указанным идентификатором не найден.
var (
	ErrIntentNotFound = errors.New("payment intent not found")
	// ErrCaptureNotConfirmed возвращается, если платёж ещё не захвачен шлюзом.
	ErrCaptureNotConfirmed = errors.New("payment capture not confirmed")
)

// Client инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// Intent описывает состояние платежа в шлюзе.
type Intent struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// NewClient создаёт HTTP-клиент для обращения к платёжному шлюзу по указанному адресу.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc,
	}
}

// VerifyCapture проверяет, что платёж с указанным идентификатором захвачен.
// Только после этой проверки реестр зачисляет монеты.
func (c *Client) VerifyCapture(ctx context.Context, intentID string) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("payment client not configured")
	}
	if intentID == "" {
		return fmt.Errorf("%w: empty intent id", ErrCaptureNotConfirmed)
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	url := fmt.Sprintf("%s/api/intents/%s", base, intentID)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrIntentNotFound, intentID)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var intent Intent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if intent.Status != "succeeded" {
		return fmt.Errorf("%w: intent %s is %s", ErrCaptureNotConfirmed, intentID, intent.Status)
	}

	return nil
}
