package analysis

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var promptCatalogue []byte

type promptSpec struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type promptTemplate struct {
	system string
	user   *template.Template
}

type renderedPrompt struct {
	System string
	User   string
}

// Prompts holds the parsed prompt catalogue, one entry per analyzer.
type Prompts struct {
	byName map[string]promptTemplate
}

// LoadPrompts parses the embedded prompt catalogue.
func LoadPrompts() (*Prompts, error) {
	return parsePrompts(promptCatalogue)
}

func parsePrompts(data []byte) (*Prompts, error) {
	var raw map[string]promptSpec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse prompt catalogue: %w", err)
	}
	prompts := &Prompts{byName: make(map[string]promptTemplate, len(raw))}
	for _, name := range []string{NameMood, NameTopic, NameBreakthrough, NameDeep, NameProse} {
		entry, ok := raw[name]
		if !ok {
			return nil, fmt.Errorf("prompt catalogue: missing %q", name)
		}
		if strings.TrimSpace(entry.System) == "" || strings.TrimSpace(entry.User) == "" {
			return nil, fmt.Errorf("prompt catalogue: %q needs system and user prompts", name)
		}
		tmpl, err := template.New(name).Option("missingkey=error").Parse(entry.User)
		if err != nil {
			return nil, fmt.Errorf("prompt catalogue: %q: %w", name, err)
		}
		prompts.byName[name] = promptTemplate{system: strings.TrimSpace(entry.System), user: tmpl}
	}
	return prompts, nil
}

func (p *Prompts) render(name string, data any) (renderedPrompt, error) {
	entry, ok := p.byName[name]
	if !ok {
		return renderedPrompt{}, fmt.Errorf("prompt %q not loaded", name)
	}
	var b strings.Builder
	if err := entry.user.Execute(&b, data); err != nil {
		return renderedPrompt{}, fmt.Errorf("render %s prompt: %w", name, err)
	}
	return renderedPrompt{System: entry.system, User: b.String()}, nil
}
