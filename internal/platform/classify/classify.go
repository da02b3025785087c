// Package classify calls the remote free-text classifier and normalizes its
// reply into a Result.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	LevelLow    = "low"
	LevelMedium = "medium"
	LevelHigh   = "high"
)

// ErrMalformedReply marks a classifier reply that could not be decoded.
var ErrMalformedReply = errors.New("malformed classifier reply")

// Request is one free-text record to classify.
type Request struct {
	RecordID  uuid.UUID
	PatientID uuid.UUID
	Text      string
}

// Result is the normalized classifier verdict.
type Result struct {
	HasAlert       bool     `json:"has_alert"`
	Level          string   `json:"level,omitempty"`
	Type           string   `json:"type,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
	Confidence     string   `json:"confidence,omitempty"`
	// Malformed marks a reply that could not be decoded. HasAlert is false
	// but is not a verdict about the text.
	Malformed bool `json:"malformed,omitempty"`
}

// Classifier is a classification backend. It returns the raw reply document;
// decoding is left to ParseReply so every backend is parsed the same way.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, req Request) ([]byte, error)
}

// ParseReply decodes a classifier reply of the form
//
//	{"hasAlert": true, "alertLevel": "high", "alertType": "suicide",
//	 "keyWords": ["hopeless"], "recommendation": "...", "confidence": "0.92"}
//
// Booleans and confidences sent as strings or numbers are accepted, keyWords
// may be a list or a comma-separated string, and a ```json fence around the
// document is stripped.
func ParseReply(raw []byte) (Result, error) {
	raw = stripFence(raw)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Result{}, fmt.Errorf("%w: not a JSON object", ErrMalformedReply)
	}

	var res Result
	hasAlert, ok := decodeBool(fields["hasAlert"])
	if !ok {
		return Result{}, fmt.Errorf("%w: hasAlert missing or not a boolean", ErrMalformedReply)
	}
	res.HasAlert = hasAlert
	res.Level = normalizeLevel(decodeString(fields["alertLevel"]), hasAlert)
	res.Type = strings.ToLower(strings.TrimSpace(decodeString(fields["alertType"])))
	res.Keywords = decodeKeywords(fields["keyWords"])
	res.Recommendation = strings.TrimSpace(decodeString(fields["recommendation"]))
	res.Confidence = strings.TrimSpace(decodeString(fields["confidence"]))
	return res, nil
}

func stripFence(raw []byte) []byte {
	raw = bytes.TrimSpace(raw)
	if !bytes.HasPrefix(raw, []byte("```")) {
		return raw
	}
	raw = bytes.TrimPrefix(raw, []byte("```"))
	raw = bytes.TrimPrefix(raw, []byte("json"))
	raw = bytes.TrimSuffix(bytes.TrimSpace(raw), []byte("```"))
	return bytes.TrimSpace(raw)
}

func decodeBool(raw json.RawMessage) (bool, bool) {
	if len(raw) == 0 {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return v, true
		}
	}
	return false, false
}

// decodeString accepts strings and numbers; anything else yields "".
func decodeString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func decodeKeywords(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		list = strings.Split(s, ",")
	}
	out := make([]string, 0, len(list))
	for _, k := range list {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalizeLevel(level string, hasAlert bool) string {
	switch l := strings.ToLower(strings.TrimSpace(level)); l {
	case LevelLow, LevelMedium, LevelHigh:
		return l
	}
	if hasAlert {
		return LevelMedium
	}
	return ""
}
