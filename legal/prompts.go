package legal

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// PromptSpec is one node's entry in the prompt catalogue.
type PromptSpec struct {
	Description  string `yaml:"description"`
	SystemPrompt string `yaml:"system_prompt"`
	Template     string `yaml:"template"`
}

// Prompts is a parsed prompt catalogue.
type Prompts struct {
	Version   string
	system    string
	templates map[string]*template.Template
}

var templatedNodes = []string{Planner, LegalRetriever, DocRetriever, Generator, HumanReviewer}

// DefaultPrompts returns the built-in catalogue.
func DefaultPrompts() *Prompts {
	p, err := LoadPrompts(defaultPrompts)
	if err != nil {
		panic(fmt.Sprintf("legal: built-in prompts: %v", err))
	}
	return p
}

// LoadPrompts parses a YAML catalogue. Every templated node and the
// initializer's system prompt must be present.
func LoadPrompts(data []byte) (*Prompts, error) {
	var doc struct {
		Version string                `yaml:"version"`
		Nodes   map[string]PromptSpec `yaml:"nodes"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}

	p := &Prompts{
		Version:   doc.Version,
		system:    strings.TrimSpace(doc.Nodes[Initializer].SystemPrompt),
		templates: make(map[string]*template.Template, len(templatedNodes)),
	}
	if p.system == "" {
		return nil, fmt.Errorf("prompts: %s.system_prompt is required", Initializer)
	}

	funcs := template.FuncMap{"join": strings.Join}
	for _, id := range templatedNodes {
		entry, ok := doc.Nodes[id]
		if !ok || strings.TrimSpace(entry.Template) == "" {
			return nil, fmt.Errorf("prompts: %s.template is required", id)
		}
		tmpl, err := template.New(id).Funcs(funcs).Option("missingkey=error").Parse(entry.Template)
		if err != nil {
			return nil, fmt.Errorf("prompts: %s: %w", id, err)
		}
		p.templates[id] = tmpl
	}
	return p, nil
}

// System returns the preamble that opens every conversation.
func (p *Prompts) System() string {
	return p.system
}

// Render executes node's template with data.
func (p *Prompts) Render(node string, data interface{}) (string, error) {
	tmpl, ok := p.templates[node]
	if !ok {
		return "", fmt.Errorf("no prompt template for %s", node)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", node, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
