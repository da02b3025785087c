package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	SignatureHeader = "X-Carealert-Signature"
	TimestampHeader = "X-Carealert-Timestamp"
)

// SignPayload returns the hex-encoded HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature returns true when the hex-encoded signature matches the HMAC-SHA256
// of payload under the given secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expected)
}

// WebhookChannel POSTs the message as signed JSON to a single endpoint.
type WebhookChannel struct {
	url    string
	secret string
	client *resty.Client
}

func NewWebhookChannel(url, secret string, client *http.Client) *WebhookChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookChannel{url: url, secret: secret, client: resty.NewWithClient(client)}
}

func (c *WebhookChannel) Name() string { return Webhook }

func (c *WebhookChannel) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	req := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(TimestampHeader, time.Now().UTC().Format(time.RFC3339)).
		SetBody(body)
	// The signature covers the exact bytes sent.
	if c.secret != "" {
		req.SetHeader(SignatureHeader, "sha256="+SignPayload(body, c.secret))
	}

	resp, err := req.Post(c.url)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	if !resp.IsSuccess() {
		snippet := resp.Body()
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode(), bytes.TrimSpace(snippet))
	}
	return nil
}
