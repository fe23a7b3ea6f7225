package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
)

// File is an uploaded document.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Extraction is structured data pulled from a document.
type Extraction struct {
	Output  map[string]any `json:"output"`
	RawText string         `json:"raw_text"`
}

// Empty reports whether nothing at all was extracted.
func (e *Extraction) Empty() bool {
	return e == nil || (len(e.Output) == 0 && e.RawText == "")
}

// Extractor runs OCR and structured extraction over a document.
type Extractor interface {
	Extract(ctx context.Context, f File, schema map[string]any) (*Extraction, error)
}

// ocrReply is the envelope both OCR services answer with.
type ocrReply struct {
	Status  string         `json:"status"`
	Output  map[string]any `json:"output"`
	RawText string         `json:"raw_text"`
	Details string         `json:"details"`
}

func (r *ocrReply) extraction(service string) (*Extraction, error) {
	if r.Status != "success" {
		details := r.Details
		if details == "" {
			details = "status " + r.Status
		}
		return nil, fmt.Errorf("%s: %w: %s", service, ErrUpstream, details)
	}
	ex := &Extraction{Output: r.Output, RawText: r.RawText}
	if ex.RawText == "" && len(ex.Output) > 0 {
		pretty, _ := json.MarshalIndent(ex.Output, "", "  ")
		ex.RawText = string(pretty)
	}
	return ex, nil
}

// CloudOCR uploads documents to a hosted extraction API. Used in api mode.
type CloudOCR struct {
	Endpoint string
	APIKey   string
	client   *http.Client
}

func NewCloudOCR(endpoint, apiKey string, client *http.Client) *CloudOCR {
	if client == nil {
		client = newHTTPClient(0)
	}
	return &CloudOCR{Endpoint: endpoint, APIKey: apiKey, client: client}
}

func (o *CloudOCR) Extract(ctx context.Context, f File, schema map[string]any) (*Extraction, error) {
	if o.Endpoint == "" {
		return nil, fmt.Errorf("cloud ocr: endpoint is not configured")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, f.Name))
	h.Set("Content-Type", f.ContentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("cloud ocr: %w", err)
	}
	if _, err := part.Write(f.Data); err != nil {
		return nil, fmt.Errorf("cloud ocr: %w", err)
	}
	if schema != nil {
		encoded, err := json.Marshal(schema)
		if err != nil {
			return nil, fmt.Errorf("cloud ocr: encoding schema: %w", err)
		}
		if err := w.WriteField("json_schema", string(encoded)); err != nil {
			return nil, fmt.Errorf("cloud ocr: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("cloud ocr: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.Endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("cloud ocr: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if o.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.APIKey)
	}

	body, err := do(ctx, o.client, "cloud_ocr", req)
	if err != nil {
		return nil, err
	}
	var reply ocrReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("cloud ocr: decoding reply: %w: %w", ErrUpstream, err)
	}
	return reply.extraction("cloud ocr")
}

// HybridOCR posts documents to the local OCR service. Used in local mode.
type HybridOCR struct {
	URL    string
	client *http.Client
}

func NewHybridOCR(url string, client *http.Client) *HybridOCR {
	if client == nil {
		client = newHTTPClient(0)
	}
	return &HybridOCR{URL: url, client: client}
}

type hybridRequest struct {
	FileBase64       string   `json:"file_base64"`
	Languages        []string `json:"languages"`
	EnginePreference string   `json:"engine_preference"`
}

func (o *HybridOCR) Extract(ctx context.Context, f File, _ map[string]any) (*Extraction, error) {
	if o.URL == "" {
		return nil, fmt.Errorf("hybrid ocr: service URL is not configured")
	}
	payload, err := json.Marshal(hybridRequest{
		FileBase64:       "data:" + f.ContentType + ";base64," + base64.StdEncoding.EncodeToString(f.Data),
		Languages:        []string{"en"},
		EnginePreference: "auto",
	})
	if err != nil {
		return nil, fmt.Errorf("hybrid ocr: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("hybrid ocr: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := do(ctx, o.client, "hybrid_ocr", req)
	if err != nil {
		return nil, err
	}
	var reply ocrReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("hybrid ocr: decoding reply: %w: %w", ErrUpstream, err)
	}
	return reply.extraction("hybrid ocr")
}
