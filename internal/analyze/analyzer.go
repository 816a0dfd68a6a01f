package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"

	"github.com/quantfeed/newswire/internal/newswire"
)

// Config tunes the analyzer output.
type Config struct {
	Endpoint      string
	Model         string
	MaxKeywords   int
	SummaryLength int
}

// Analyzer implements newswire.Analyzer on top of an Ollama-served model.
type Analyzer struct {
	cfg     Config
	model   llms.Model
	prompts *PromptSet
	logger  *zap.Logger
}

// New connects to the Ollama endpoint and wires in the prompt set.
func New(cfg Config, prompts *PromptSet, logger *zap.Logger) (*Analyzer, error) {
	model, err := ollama.New(
		ollama.WithServerURL(cfg.Endpoint),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("connect ollama %s: %w", cfg.Endpoint, err)
	}
	return NewWithModel(cfg, model, prompts, logger), nil
}

// NewWithModel builds an analyzer over an already constructed model. Tests
// pass a fake here.
func NewWithModel(cfg Config, model llms.Model, prompts *PromptSet, logger *zap.Logger) *Analyzer {
	return &Analyzer{cfg: cfg, model: model, prompts: prompts, logger: logger}
}

// Analyze renders the locale-appropriate prompt, calls the model in JSON
// mode, and parses the structured result. A response that is not valid JSON
// for the expected shape is an error; the caller owns retries.
func (a *Analyzer) Analyze(ctx context.Context, content string, language string) (newswire.Analysis, error) {
	prompt := a.prompts.Render(language, content, a.cfg.MaxKeywords, a.cfg.SummaryLength)

	raw, err := llms.GenerateFromSinglePrompt(ctx, a.model, prompt,
		llms.WithJSONMode(),
		llms.WithTemperature(0.1),
	)
	if err != nil {
		return newswire.Analysis{}, fmt.Errorf("model call: %w", err)
	}

	analysis, err := parseAnalysis(raw)
	if err != nil {
		a.logger.Warn("model returned unparseable analysis",
			zap.String("language", language),
			zap.String("response", truncate(raw, 200)),
			zap.Error(err),
		)
		return newswire.Analysis{}, err
	}
	if len(analysis.Keywords) > a.cfg.MaxKeywords && a.cfg.MaxKeywords > 0 {
		analysis.Keywords = analysis.Keywords[:a.cfg.MaxKeywords]
	}
	return analysis, nil
}

// parseAnalysis decodes the model output, tolerating markdown code fences
// around the JSON object.
func parseAnalysis(raw string) (newswire.Analysis, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var analysis newswire.Analysis
	if err := json.Unmarshal([]byte(cleaned), &analysis); err != nil {
		return newswire.Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	if analysis.Summary == "" && len(analysis.Keywords) == 0 {
		return newswire.Analysis{}, fmt.Errorf("analysis missing both summary and keywords")
	}
	return analysis, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
