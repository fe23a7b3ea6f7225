// Package inference holds the clients for prediction and OCR backends:
// custom model endpoints, stored mock outputs, the default Gemini LLM and
// the two document extraction services.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardiodx/cardiodx/internal/platform/telemetry"
)

// Inference categories.
const (
	CategoryHeartDisease = "heart_disease"
	CategoryImage        = "image_classification"
	CategoryOCR          = "ocr"
)

// ErrUpstream marks a failure of the backend serving a prediction or
// extraction.
var ErrUpstream = errors.New("inference upstream failure")

var (
	ErrEmptyOutput  = fmt.Errorf("%w: inference returned no output", ErrUpstream)
	ErrInvalidReply = fmt.Errorf("%w: inference reply is not a JSON object", ErrUpstream)
)

// Request is one prediction call.
type Request struct {
	Prompt   string          `json:"prompt"`
	Schema   map[string]any  `json:"schema,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Category string          `json:"category"`
}

// Predictor produces a JSON object matching Request.Schema.
type Predictor interface {
	Predict(ctx context.Context, req Request) (json.RawMessage, error)
}

// UpstreamError is a non-2xx reply from a remote service.
type UpstreamError struct {
	Service string
	Status  int
	Body    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Service, e.Status, e.Body)
}

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// DefaultTimeout applies when no client is injected.
const DefaultTimeout = 60 * time.Second

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// do sends req inside a client span, injects trace headers and returns the
// body of a 2xx reply.
func do(ctx context.Context, client *http.Client, service string, req *http.Request) ([]byte, error) {
	ctx, span := telemetry.Tracer().Start(ctx, service,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.Redacted()),
		),
	)
	defer span.End()

	req = req.WithContext(ctx)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%s: %w: %w", service, ErrUpstream, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: reading reply: %w: %w", service, ErrUpstream, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := body
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		uerr := &UpstreamError{Service: service, Status: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
		span.SetStatus(codes.Error, uerr.Error())
		return nil, uerr
	}
	return body, nil
}

// objectOrError accepts a JSON object and rejects anything else.
func objectOrError(raw []byte) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, ErrEmptyOutput
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReply, err)
	}
	return json.RawMessage(raw), nil
}
