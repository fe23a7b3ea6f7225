package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// RemoteModel calls a custom model endpoint with a bearer key.
type RemoteModel struct {
	Endpoint string
	APIKey   string
	client   *http.Client
}

func NewRemoteModel(endpoint, apiKey string, client *http.Client) *RemoteModel {
	if client == nil {
		client = newHTTPClient(0)
	}
	return &RemoteModel{Endpoint: endpoint, APIKey: apiKey, client: client}
}

func (m *RemoteModel) Predict(ctx context.Context, req Request) (json.RawMessage, error) {
	if m.Endpoint == "" {
		return nil, fmt.Errorf("remote model: endpoint is not configured")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("remote model: encoding request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("remote model: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if m.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+m.APIKey)
	}

	body, err := do(ctx, m.client, "remote_model", httpReq)
	if err != nil {
		return nil, err
	}
	return objectOrError(body)
}

// MockOutput replays the stored mock prediction of a local model. Local
// artifacts are never executed.
type MockOutput struct {
	Output string
}

func (m MockOutput) Predict(_ context.Context, _ Request) (json.RawMessage, error) {
	if strings.TrimSpace(m.Output) == "" {
		return json.RawMessage(`{}`), nil
	}
	return objectOrError([]byte(m.Output))
}

// contentGenerator is the part of *genai.Models the LLM uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiLLM is the default LLM used when no custom API model is active.
type GeminiLLM struct {
	models contentGenerator
	model  string
}

func NewGeminiLLM(ctx context.Context, apiKey, model string) (*GeminiLLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}
	return &GeminiLLM{models: client.Models, model: model}, nil
}

func (g *GeminiLLM) Predict(ctx context.Context, req Request) (json.RawMessage, error) {
	ctx, span := tracerStart(ctx, "gemini.generate_content")
	defer span.End()

	prompt := req.Prompt
	if len(req.Input) > 0 {
		prompt += "\n\nStructured input:\n" + string(req.Input)
	}
	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	if req.Schema != nil {
		cfg.ResponseJsonSchema = req.Schema
	}

	resp, err := g.models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, cfg)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("gemini: %w: %w", ErrUpstream, err)
	}
	return objectOrError([]byte(stripFence(resp.Text())))
}

// stripFence removes a markdown code fence around a JSON reply.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
