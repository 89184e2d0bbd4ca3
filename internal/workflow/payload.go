package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"text/template"

	"github.com/google/uuid"
)

// PayloadSource produces the JSON body for each submission. Payload files
// may use template variables ({{uuid}}, {{index}}) and functions so every
// task can submit a distinct body. Safe for concurrent use: the template
// is compiled once at construction.
type PayloadSource struct {
	tmpl *template.Template
}

// payloadData is the execution context for payload templates.
type payloadData struct {
	UUID  string
	Index int
}

// NewPayloadSource returns a source producing the built-in minimal payload.
func NewPayloadSource() *PayloadSource {
	p, err := newPayloadSource(`{"basicInfo": {}}`)
	if err != nil {
		// The built-in payload is a constant; this cannot fail.
		panic(err)
	}
	return p
}

// LoadPayloadFile reads a payload template from a JSON file.
func LoadPayloadFile(path string) (*PayloadSource, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload file '%s': %w", path, err)
	}
	return newPayloadSource(string(content))
}

func newPayloadSource(raw string) (*PayloadSource, error) {
	funcs := template.FuncMap{
		"randomInt": func(min, max int) int {
			return rand.Intn(max-min) + min
		},
		"randomUUID": func() string {
			return uuid.New().String()
		},
		"randomChoice": func(choices ...string) string {
			if len(choices) == 0 {
				return ""
			}
			return choices[rand.Intn(len(choices))]
		},
	}

	t, err := template.New("payload").Funcs(funcs).Parse(preprocess(raw))
	if err != nil {
		return nil, fmt.Errorf("payload template: %w", err)
	}
	return &PayloadSource{tmpl: t}, nil
}

// preprocess converts naked variables to dot-notation for struct access.
func preprocess(s string) string {
	s = strings.ReplaceAll(s, "{{uuid}}", "{{.UUID}}")
	s = strings.ReplaceAll(s, "{{index}}", "{{.Index}}")
	return s
}

// Build renders the payload for one task and unmarshals it into a map.
func (p *PayloadSource) Build(id string, index int) (map[string]any, error) {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, payloadData{UUID: id, Index: index}); err != nil {
		return nil, fmt.Errorf("payload template: %w", err)
	}

	var body map[string]any
	if err := json.Unmarshal(buf.Bytes(), &body); err != nil {
		return nil, fmt.Errorf("payload is not valid JSON: %w", err)
	}
	return body, nil
}

// injectIdentifier places the identifier into the fixed submission field.
// The caller's payload is not mutated.
func injectIdentifier(body map[string]any, id string) map[string]any {
	merged := make(map[string]any, len(body)+1)
	for k, v := range body {
		merged[k] = v
	}

	basic := map[string]any{}
	if prev, ok := merged["basicInfo"].(map[string]any); ok {
		for k, v := range prev {
			basic[k] = v
		}
	}
	basic["taskId"] = id
	merged["basicInfo"] = basic

	return merged
}
