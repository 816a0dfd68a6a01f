// Package analyze turns extracted article text into structured market
// signals by calling a local Ollama endpoint with locale-specific prompts.
package analyze

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// requiredPlaceholders must appear in every prompt template so the rendered
// prompt always carries the article and the output constraints.
var requiredPlaceholders = []string{"{max_keywords}", "{summary_length}", "{content}"}

// PromptSet holds one analysis prompt template per language, keyed by
// language code ("en", "zh"). The "en" template doubles as the fallback.
type PromptSet struct {
	templates map[string]string
}

// LoadPrompts reads a YAML file mapping language codes to templates and
// validates that every template carries the required placeholders.
func LoadPrompts(path string) (*PromptSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt file: %w", err)
	}

	var templates map[string]string
	if err := yaml.Unmarshal(raw, &templates); err != nil {
		return nil, fmt.Errorf("parse prompt file %s: %w", path, err)
	}
	if _, ok := templates["en"]; !ok {
		return nil, fmt.Errorf("prompt file %s missing required \"en\" template", path)
	}
	for lang, tmpl := range templates {
		for _, ph := range requiredPlaceholders {
			if !strings.Contains(tmpl, ph) {
				return nil, fmt.Errorf("prompt template %q missing placeholder %s", lang, ph)
			}
		}
	}
	return &PromptSet{templates: templates}, nil
}

// Render produces the prompt for one article, selecting the template by
// language and falling back to English for unknown codes.
func (p *PromptSet) Render(language, content string, maxKeywords, summaryLength int) string {
	tmpl, ok := p.templates[language]
	if !ok {
		tmpl = p.templates["en"]
	}
	r := strings.NewReplacer(
		"{max_keywords}", strconv.Itoa(maxKeywords),
		"{summary_length}", strconv.Itoa(summaryLength),
		"{content}", content,
	)
	return r.Replace(tmpl)
}

// Languages lists the codes the set has templates for.
func (p *PromptSet) Languages() []string {
	out := make([]string, 0, len(p.templates))
	for lang := range p.templates {
		out = append(out, lang)
	}
	return out
}
