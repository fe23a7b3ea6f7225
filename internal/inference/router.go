package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardiodx/cardiodx/internal/platform/telemetry"
)

// TargetKind says which backend serves a category.
type TargetKind string

const (
	TargetCustomAPI  TargetKind = "custom_api"
	TargetLocalMock  TargetKind = "local_mock"
	TargetDefaultLLM TargetKind = "default_llm"
	TargetNone       TargetKind = "none"
)

// ModelRef is what the router needs to know about a registered model.
type ModelRef struct {
	ID         string
	Name       string
	Endpoint   string
	APIKey     string
	MockOutput string
}

// Target is the resolved backend for one category in the current mode.
type Target struct {
	Kind  TargetKind
	Mode  string
	Model *ModelRef
}

// Resolver picks the target for a category.
type Resolver interface {
	Resolve(ctx context.Context, category string) (Target, error)
}

// Result is the outcome of a routed prediction.
type Result struct {
	Output        json.RawMessage `json:"output,omitempty"`
	NoModelActive bool            `json:"no_model_active,omitempty"`
	Message       string          `json:"message,omitempty"`
	Source        TargetKind      `json:"source"`
	ModelName     string          `json:"model_name,omitempty"`
}

// NoModelActiveMessage is returned to clients when nothing can serve a category.
func NoModelActiveMessage(category, mode string) string {
	return fmt.Sprintf("No active %s model is configured for %s mode. Activate a model in ML Model Management.", category, mode)
}

// Router dispatches a request to the predictor behind the resolved target.
type Router struct {
	resolver   Resolver
	llm        Predictor
	httpClient *http.Client
}

// NewRouter builds a router. llm may be nil, in which case default_llm
// targets behave as none.
func NewRouter(resolver Resolver, llm Predictor, client *http.Client) *Router {
	if client == nil {
		client = newHTTPClient(0)
	}
	return &Router{resolver: resolver, llm: llm, httpClient: client}
}

func (r *Router) predictorFor(t Target) Predictor {
	switch t.Kind {
	case TargetCustomAPI:
		if t.Model != nil {
			return NewRemoteModel(t.Model.Endpoint, t.Model.APIKey, r.httpClient)
		}
	case TargetLocalMock:
		if t.Model != nil {
			return MockOutput{Output: t.Model.MockOutput}
		}
	case TargetDefaultLLM:
		return r.llm
	}
	return nil
}

func (r *Router) Predict(ctx context.Context, req Request) (*Result, error) {
	target, err := r.resolver.Resolve(ctx, req.Category)
	if err != nil {
		return nil, fmt.Errorf("resolving %s model: %w", req.Category, err)
	}

	p := r.predictorFor(target)
	if p == nil {
		return &Result{
			NoModelActive: true,
			Message:       NoModelActiveMessage(req.Category, target.Mode),
			Source:        TargetNone,
		}, nil
	}

	ctx, span := tracerStart(ctx, "inference.predict",
		attribute.String("inference.category", req.Category),
		attribute.String("inference.target", string(target.Kind)),
	)
	defer span.End()

	out, err := p.Predict(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	res := &Result{Output: out, Source: target.Kind}
	if target.Model != nil {
		res.ModelName = target.Model.Name
	}
	return res, nil
}

func tracerStart(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return telemetry.Tracer().Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}
