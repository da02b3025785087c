package classify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/carealert/internal/platform/metrics"
)

const DefaultTimeout = 10 * time.Second

const resultMalformed = "malformed"

// Bridge bounds each classifier call with a timeout and turns the reply
// into a Result. Nothing is persisted here.
type Bridge struct {
	backend Classifier
	timeout time.Duration
	logger  zerolog.Logger
}

func NewBridge(backend Classifier, timeout time.Duration, logger zerolog.Logger) *Bridge {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Bridge{
		backend: backend,
		timeout: timeout,
		logger:  logger.With().Str("component", "classify").Str("backend", backend.Name()).Logger(),
	}
}

// Classify classifies text that is not tied to a stored record.
func (b *Bridge) Classify(ctx context.Context, text string, patientID uuid.UUID) (Result, error) {
	return b.ClassifyRecord(ctx, Request{PatientID: patientID, Text: text})
}

// ClassifyRecord calls the backend. Transport failures, timeouts and non-2xx
// replies are errors and the caller must not infer an alert. A reply that
// cannot be decoded is logged and yields a Result with Malformed set, which
// carries no verdict.
func (b *Bridge) ClassifyRecord(ctx context.Context, req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	raw, err := b.backend.Classify(ctx, req)
	if err != nil {
		metrics.ObserveClassifier(b.backend.Name(), metrics.ResultError, time.Since(start))
		if ctx.Err() == context.DeadlineExceeded {
			return Result{}, fmt.Errorf("classifier timed out after %s: %w", b.timeout, err)
		}
		return Result{}, err
	}

	res, err := ParseReply(raw)
	if err != nil {
		metrics.ObserveClassifier(b.backend.Name(), resultMalformed, time.Since(start))
		b.logger.Warn().Err(err).
			Str("record_id", req.RecordID.String()).
			Int("reply_bytes", len(raw)).
			Msg("classifier reply could not be parsed")
		return Result{Malformed: true}, nil
	}
	metrics.ObserveClassifier(b.backend.Name(), metrics.ResultSuccess, time.Since(start))
	return res, nil
}
