// Package notification delivers outbound mail: invitations, high-risk
// alerts and mode-change notices. Templates use {{key}} placeholders.
package notification

import (
	"fmt"
	"strings"
	"sync"
)

// Built-in template IDs.
const (
	TemplateInvitation    = "invitation"
	TemplateHighRiskAlert = "high-risk-alert"
	TemplateModeChanged   = "mode-changed"
)

// Template defines a reusable mail template.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages mail templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateInvitation,
			Name:    "Invitation",
			Subject: "You have been invited to CardioDx",
			Body:    "Hello, {{invited_by}} has invited you to join CardioDx as a {{role}}. Accept the invitation here: {{link}}\nThis link expires on {{expires_at}}.",
		},
		{
			ID:      TemplateHighRiskAlert,
			Name:    "High-risk diagnosis",
			Subject: "High-risk diagnosis for {{patient_name}}",
			Body:    "A {{risk}} risk case was recorded for {{patient_name}} (risk score {{score}}). Review it here: {{link}}",
		},
		{
			ID:      TemplateModeChanged,
			Name:    "System mode changed",
			Subject: "CardioDx inference mode changed",
			Body:    "System inference mode has been switched to {{mode}} by {{changed_by}}.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}
