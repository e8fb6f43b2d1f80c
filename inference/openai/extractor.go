package openai

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/teranos/bfhtw/errors"
	"github.com/teranos/bfhtw/inference"
	"github.com/teranos/bfhtw/logger"
)

// parseAttempts bounds how often a malformed JSON answer is re-requested
const parseAttempts = 3

const systemPrompt = `You extract biomedical entities from a passage of a scientific article.
Answer with a single JSON object and nothing else. Use exactly these keys, each holding a
list of strings copied from the passage (empty list when none are mentioned):
medications, diseases, symptoms, therapeutic_procedures, diagnostic_procedures,
clinical_events, biological_structures, lab_values, dosages, durations, times, other.
Do not invent mentions that are not in the passage.`

// EntityExtractor implements inference.EntityExtractor with a JSON-mode chat model
type EntityExtractor struct {
	client llms.Model
	logger *zap.SugaredLogger
}

// ExtractEntities implements inference.EntityExtractor
func (e *EntityExtractor) ExtractEntities(ctx context.Context, text string) (*inference.Entities, error) {
	content := []llms.MessageContent{
		{Role: llms.ChatMessageTypeSystem, Parts: []llms.ContentPart{llms.TextPart(systemPrompt)}},
		{Role: llms.ChatMessageTypeHuman, Parts: []llms.ContentPart{llms.TextPart(text)}},
	}

	var lastErr error
	for attempt := 1; attempt <= parseAttempts; attempt++ {
		resp, err := e.client.GenerateContent(ctx, content, llms.WithTemperature(0), llms.WithJSONMode())
		if err != nil {
			return nil, errors.MarkConnection(errors.Wrap(err, "generate entities"))
		}
		if len(resp.Choices) == 0 {
			return &inference.Entities{}, nil
		}

		ents, err := ParseEntities(resp.Choices[0].Content)
		if err == nil {
			return ents, nil
		}
		lastErr = err
		e.logger.Warnw("Unparseable entity response", "attempt", attempt, logger.FieldError, err.Error())
	}
	return nil, errors.MarkProcessing(errors.Wrapf(lastErr, "parse entities after %d attempts", parseAttempts))
}

// ParseEntities decodes a model answer, tolerating markdown code fences
func ParseEntities(answer string) (*inference.Entities, error) {
	answer = strings.TrimSpace(answer)
	answer = strings.TrimPrefix(answer, "```json")
	answer = strings.TrimPrefix(answer, "```")
	answer = strings.TrimSuffix(answer, "```")
	answer = strings.TrimSpace(answer)

	var ents inference.Entities
	if err := json.Unmarshal([]byte(answer), &ents); err != nil {
		return nil, err
	}
	return &ents, nil
}
