package classify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

type httpRequest struct {
	RecordID    string `json:"recordId"`
	PatientText string `json:"patientText"`
	PatientID   string `json:"patientId"`
}

// HTTPClassifier POSTs the record to a classification service.
type HTTPClassifier struct {
	url    string
	client *resty.Client
}

// NewHTTPClassifier builds a classifier for url. The bridge owns the
// timeout, so client should not set one shorter than the bridge's.
func NewHTTPClassifier(url string, client *http.Client) *HTTPClassifier {
	if client == nil {
		client = &http.Client{}
	}
	rc := resty.NewWithClient(client).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &HTTPClassifier{url: url, client: rc}
}

func (c *HTTPClassifier) Name() string { return "http" }

func (c *HTTPClassifier) Classify(ctx context.Context, req Request) ([]byte, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(httpRequest{
			RecordID:    req.RecordID.String(),
			PatientText: req.Text,
			PatientID:   req.PatientID.String(),
		}).
		Post(c.url)
	if err != nil {
		return nil, fmt.Errorf("classifier request: %w", err)
	}

	reply := resp.Body()
	if !resp.IsSuccess() {
		if len(reply) > 256 {
			reply = reply[:256]
		}
		return nil, fmt.Errorf("classifier returned %d: %s", resp.StatusCode(), bytes.TrimSpace(reply))
	}
	return reply, nil
}
