package validate

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultMinTextLength = 100
	DefaultMaxTextLength = 50000

	// LowVocabularyScore is the vocabulary density below which a warning is raised
	LowVocabularyScore = 0.001
)

// DefaultTextFields are searched in order for the text to check
var DefaultTextFields = []string{"text", "content", "abstract", "body", "title"}

// ContentOptions tune ContentValidator
type ContentOptions struct {
	MinLength         int
	MaxLength         int
	RequireVocabulary bool
	Vocabulary        *Vocabulary
	TextFields        []string
}

// ContentValidator checks the quality of an item's text: length, encoding,
// language and biomedical vocabulary density. The density is returned as the
// result score when RequireVocabulary is set.
type ContentValidator struct {
	opts ContentOptions
}

// NewContentValidator fills zero options with defaults
func NewContentValidator(opts ContentOptions) *ContentValidator {
	if opts.MinLength <= 0 {
		opts.MinLength = DefaultMinTextLength
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultMaxTextLength
	}
	if len(opts.TextFields) == 0 {
		opts.TextFields = DefaultTextFields
	}
	if opts.RequireVocabulary && opts.Vocabulary == nil {
		opts.Vocabulary = DefaultVocabulary()
	}
	return &ContentValidator{opts: opts}
}

// Validate implements Validator
func (c *ContentValidator) Validate(_ context.Context, item map[string]interface{}) Result {
	r := Valid()
	text := c.extractText(item)
	if text == "" {
		r.Errorf("No text content found for validation")
		return r
	}

	length := utf8.RuneCountInString(strings.TrimSpace(text))
	if length < c.opts.MinLength {
		r.Errorf("Text too short: %d < %d characters", length, c.opts.MinLength)
	} else if length > c.opts.MaxLength {
		r.Warnf("Text very long: %d > %d characters", length, c.opts.MaxLength)
	}

	nonPrintable, nonASCII, total := 0, 0, 0
	for _, ch := range text {
		total++
		if ch > unicode.MaxASCII {
			nonASCII++
		}
		if !unicode.IsPrint(ch) && ch != '\n' && ch != '\r' && ch != '\t' {
			nonPrintable++
		}
	}
	if float64(nonPrintable) > float64(length)*0.1 {
		r.Warnf("High non-printable character count: %d", nonPrintable)
	}
	if float64(nonASCII) > float64(total)*0.1 {
		r.Warnf("Possible non-English content detected")
	}

	if c.opts.RequireVocabulary {
		s := c.opts.Vocabulary.Score(text)
		if s < LowVocabularyScore {
			r.Warnf("Low biomedical content score: %.4f", s)
		}
		r.Score = score(s)
	}
	return r.finish()
}

func (c *ContentValidator) extractText(item map[string]interface{}) string {
	for _, field := range c.opts.TextFields {
		v, ok := item[field]
		if !ok || isBlank(v) {
			continue
		}
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}
