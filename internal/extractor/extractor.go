// Package extractor implements the Text Extractor (C5): it reads a
// capture's screenshots through a vision-capable LLM and appends the
// extracted full_text/summary fields to the capture's Metadata Record.
package extractor

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"visualtweets/internal/blobstore"
	"visualtweets/internal/model"
)

const placeholderText = "could not extract"

const extractionPrompt = `You are reading a screenshot of a social media post. Transcribe the
visible post text verbatim, then write a one-sentence summary. Respond as:
TEXT: <verbatim text>
SUMMARY: <one sentence>`

// Config configures the Text Extractor.
type Config struct {
	Model   string
	APIKey  string
	Timeout time.Duration
}

// Extractor is the capability the Pipeline Driver depends on for C5.
type Extractor struct {
	llm    llms.Model
	cfg    Config
	blob   blobstore.BlobStore
	logger *logrus.Logger
}

// New builds an Extractor backed by an OpenAI-compatible vision model,
// matching the functional-option Client-wrapping idiom used elsewhere in
// the pack for langchaingo clients.
func New(cfg Config, blob blobstore.BlobStore, logger *logrus.Logger) (*Extractor, error) {
	opts := []openai.Option{openai.WithModel(cfg.Model)}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("extractor: init llm client: %w", err)
	}
	return &Extractor{llm: model, cfg: cfg, blob: blob, logger: logger}, nil
}

// Extract reads the Metadata Record at metadataKey, and — unless it
// already carries full_text (idempotent re-run) — extracts text from its
// screenshots, appends full_text/summary/extraction_timestamp, and writes
// the record back.
func (e *Extractor) Extract(ctx context.Context, metadataKey string) error {
	var record model.MetadataRecord
	if err := e.blob.GetJSON(ctx, metadataKey, &record); err != nil {
		return fmt.Errorf("extractor: read metadata %s: %w", metadataKey, err)
	}

	if record.FullText != "" {
		return nil
	}

	screenshots := record.S3Screenshots
	if len(screenshots) == 0 && record.OrderedTweets != nil {
		for _, t := range record.OrderedTweets {
			screenshots = append(screenshots, t.S3Screenshots...)
		}
	}
	if len(screenshots) == 0 {
		e.logger.WithField("component", "extractor").WithField("metadata_key", metadataKey).Warn("extractor: no screenshots to extract from")
		record.FullText = placeholderText
		record.Summary = placeholderText
		ts := time.Now().UTC()
		record.ExtractionTimestamp = &ts
		_, err := e.blob.PutJSON(ctx, metadataKey, record)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	text, summary, err := e.extractFromImages(ctx, screenshots)
	if err != nil {
		e.logger.WithFields(logrus.Fields{"component": "extractor", "metadata_key": metadataKey, "error": err.Error()}).Warn("extractor: extraction call failed, using placeholder")
		text, summary = placeholderText, placeholderText
	}
	if strings.TrimSpace(text) == "" {
		text = placeholderText
	}
	if strings.TrimSpace(summary) == "" {
		summary = placeholderText
	}

	record.FullText = text
	record.Summary = summary
	ts := time.Now().UTC()
	record.ExtractionTimestamp = &ts

	if _, err := e.blob.PutJSON(ctx, metadataKey, record); err != nil {
		return fmt.Errorf("extractor: write metadata %s: %w", metadataKey, err)
	}
	return nil
}

func (e *Extractor) timeout() time.Duration {
	if e.cfg.Timeout > 0 {
		return e.cfg.Timeout
	}
	return 60 * time.Second
}

// extractFromImages reads each screenshot as a local file path (an
// s3:// reference is not fetched and fails the read), base64-encodes it
// as a data URL, and issues one multi-content vision call carrying every
// image in order, followed by the prompt.
func (e *Extractor) extractFromImages(ctx context.Context, imagePaths []string) (text, summary string, err error) {
	parts := make([]llms.ContentPart, 0, len(imagePaths)+1)
	for _, imagePath := range imagePaths {
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return "", "", fmt.Errorf("read screenshot %s: %w", imagePath, err)
		}
		parts = append(parts, llms.ImageURLPart("data:image/png;base64,"+base64.StdEncoding.EncodeToString(data)))
	}
	parts = append(parts, llms.TextPart(extractionPrompt))

	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: parts,
		},
	}

	resp, err := e.llm.GenerateContent(ctx, content, llms.WithTemperature(0))
	if err != nil {
		return "", "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", "", fmt.Errorf("empty response")
	}

	return parseExtraction(resp.Choices[0].Content)
}

// parseExtraction splits a "TEXT: ...\nSUMMARY: ..." response. Falls
// back to treating the whole response as text with no summary if the
// expected markers are absent.
func parseExtraction(raw string) (text, summary string, err error) {
	lines := strings.Split(raw, "\n")
	var textLines, summaryLines []string
	section := ""
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "TEXT:"):
			section = "text"
			textLines = append(textLines, strings.TrimSpace(strings.TrimPrefix(line, "TEXT:")))
		case strings.HasPrefix(line, "SUMMARY:"):
			section = "summary"
			summaryLines = append(summaryLines, strings.TrimSpace(strings.TrimPrefix(line, "SUMMARY:")))
		case section == "text":
			textLines = append(textLines, line)
		case section == "summary":
			summaryLines = append(summaryLines, line)
		}
	}
	if len(textLines) == 0 {
		return strings.TrimSpace(raw), "", nil
	}
	return strings.TrimSpace(strings.Join(textLines, "\n")), strings.TrimSpace(strings.Join(summaryLines, "\n")), nil
}
