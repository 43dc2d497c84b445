// Package classifier implements the Hierarchical Classifier (C7): a
// two-pass LLM protocol that assigns a coarse L1 topic (with a
// confidence gate) and, only when L1 confidence clears the threshold,
// one or more fine L2 topics scoped to that L1 topic.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"visualtweets/internal/taxonomy"
)

// Uncertain is the level1 value returned when L1 confidence falls below
// threshold, or when the LLM never produces a valid response.
const Uncertain = "Uncertain"

// Result is the outcome of classifying one post.
type Result struct {
	Level1   string
	Level2   []string
	ConfL1   float64
	ConfL2   float64
	Model    string
	RawL1    string
	RawL2    string
}

// Config configures the Hierarchical Classifier.
type Config struct {
	Model               string
	APIKey              string
	ConfidenceThreshold float64
	MaxRetries          int
}

// Classifier is the capability the Classification Worker depends on.
type Classifier struct {
	llm      llms.LLM
	taxonomy *taxonomy.Taxonomy
	cfg      Config
	logger   *logrus.Logger
}

// New builds a Classifier backed by an OpenAI-compatible chat model.
func New(cfg Config, tax *taxonomy.Taxonomy, logger *logrus.Logger) (*Classifier, error) {
	opts := []openai.Option{openai.WithModel(cfg.Model)}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("classifier: init llm client: %w", err)
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.5
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	return &Classifier{llm: model, taxonomy: tax, cfg: cfg, logger: logger}, nil
}

type l1Response struct {
	Level1     string  `json:"level1"`
	Confidence float64 `json:"confidence"`
}

type l2Response struct {
	Level2     []string `json:"level2"`
	Confidence float64  `json:"confidence"`
}

// Classify runs the two-pass protocol described in spec.md §4.7.
func (c *Classifier) Classify(ctx context.Context, postID, text string) (Result, error) {
	l1, raw1, err := c.classifyL1(ctx, text)
	if err != nil {
		c.logger.WithFields(logrus.Fields{"component": "classifier", "tweet_id": postID, "error": err.Error()}).Warn("classifier: L1 classification failed after retries, returning Uncertain")
		return Result{Level1: Uncertain, Model: c.cfg.Model}, nil
	}

	if l1.Confidence < c.cfg.ConfidenceThreshold {
		return Result{
			Level1: Uncertain,
			ConfL1: l1.Confidence,
			ConfL2: 0,
			Model:  c.cfg.Model,
			RawL1:  raw1,
		}, nil
	}

	l2, raw2, err := c.classifyL2(ctx, text, l1.Level1)
	if err != nil {
		c.logger.WithFields(logrus.Fields{"component": "classifier", "tweet_id": postID, "error": err.Error()}).Warn("classifier: L2 classification failed after retries, keeping L1 only")
		return Result{
			Level1: l1.Level1,
			ConfL1: l1.Confidence,
			Model:  c.cfg.Model,
			RawL1:  raw1,
		}, nil
	}

	filtered := c.taxonomy.FilterValidL2(l1.Level1, l2.Level2)

	return Result{
		Level1: l1.Level1,
		Level2: filtered,
		ConfL1: l1.Confidence,
		ConfL2: l2.Confidence,
		Model:  c.cfg.Model,
		RawL1:  raw1,
		RawL2:  raw2,
	}, nil
}

// classifyL1 issues the L1 call, retrying a bounded number of times
// against the same model and prompt on malformed JSON, empty responses,
// or enumeration violations (spec.md §4.7 failure semantics).
func (c *Classifier) classifyL1(ctx context.Context, text string) (l1Response, string, error) {
	prompt := buildL1Prompt(c.taxonomy.L1Topics(), text)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		raw, err := c.call(ctx, prompt)
		if err != nil {
			lastErr = err
			continue
		}
		var parsed l1Response
		if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
			lastErr = fmt.Errorf("malformed L1 response: %w", err)
			continue
		}
		if strings.TrimSpace(parsed.Level1) == "" {
			lastErr = fmt.Errorf("empty L1 response")
			continue
		}
		if !c.taxonomy.IsValidL1(parsed.Level1) {
			lastErr = fmt.Errorf("L1 topic %q not in enumeration", parsed.Level1)
			continue
		}
		return parsed, raw, nil
	}
	return l1Response{}, "", lastErr
}

// classifyL2 issues the L2 call, scoped to l1Topic's fine-topic
// enumeration, under the same retry bound as L1. It retries only on call
// errors and malformed JSON; topics outside the enumeration are not
// retried but filtered out afterwards by Classify.
func (c *Classifier) classifyL2(ctx context.Context, text, l1Topic string) (l2Response, string, error) {
	fineTopics := c.taxonomy.L2Topics(l1Topic)
	prompt := buildL2Prompt(fineTopics, text)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		raw, err := c.call(ctx, prompt)
		if err != nil {
			lastErr = err
			continue
		}
		var parsed l2Response
		if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
			lastErr = fmt.Errorf("malformed L2 response: %w", err)
			continue
		}
		return parsed, raw, nil
	}
	return l2Response{}, "", lastErr
}

func (c *Classifier) call(ctx context.Context, prompt string) (string, error) {
	resp, err := c.llm.Call(ctx, prompt, llms.WithTemperature(0))
	if err != nil {
		return "", fmt.Errorf("llm call: %w", err)
	}
	return resp, nil
}

func buildL1Prompt(l1Topics []string, text string) string {
	var b strings.Builder
	b.WriteString("LEVEL-1 CLASSIFICATION\n")
	b.WriteString("Choose exactly one topic from this list that best matches the post:\n")
	for _, t := range l1Topics {
		fmt.Fprintf(&b, "- %s\n", t)
	}
	b.WriteString("\nPost text:\n")
	b.WriteString(text)
	b.WriteString("\n\nRespond with strict JSON only: {\"level1\": \"<topic>\", \"confidence\": <0-1 float>}")
	return b.String()
}

func buildL2Prompt(fineTopics []string, text string) string {
	var b strings.Builder
	b.WriteString("LEVEL-2 CLASSIFICATION\n")
	b.WriteString("Choose zero or more fine topics from this list that apply to the post:\n")
	for _, t := range fineTopics {
		fmt.Fprintf(&b, "- %s\n", t)
	}
	b.WriteString("\nPost text:\n")
	b.WriteString(text)
	b.WriteString("\n\nRespond with strict JSON only: {\"level2\": [\"<topic>\", ...], \"confidence\": <0-1 float>}")
	return b.String()
}

// extractJSON trims any surrounding prose a model adds despite
// instructions, returning the substring between the first '{' and the
// last '}'.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return raw
	}
	return raw[start : end+1]
}
