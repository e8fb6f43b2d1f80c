package documents

import (
	"regexp"
	"strings"
	"time"

	"github.com/teranos/bfhtw/models"
)

// DefaultMinBlockChars is the shortest paragraph kept as its own block
const DefaultMinBlockChars = 40

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n+`)

// SplitBlocks cuts text into paragraph blocks. A paragraph shorter than
// minChars is joined to the one after it; a short tail is joined to the
// last block. Offsets index into text.
func SplitBlocks(docID, text string, minChars int, now time.Time) []*models.Block {
	if minChars <= 0 {
		minChars = DefaultMinBlockChars
	}

	type span struct{ start, end int }
	var spans []span
	pos := 0
	for _, loc := range paragraphBreak.FindAllStringIndex(text, -1) {
		spans = append(spans, span{pos, loc[0]})
		pos = loc[1]
	}
	spans = append(spans, span{pos, len(text)})

	var merged []span
	var pending *span
	for _, s := range spans {
		if strings.TrimSpace(text[s.start:s.end]) == "" {
			continue
		}
		if pending != nil {
			s.start = pending.start
			pending = nil
		}
		if len(strings.TrimSpace(text[s.start:s.end])) < minChars {
			cp := s
			pending = &cp
			continue
		}
		merged = append(merged, s)
	}
	if pending != nil {
		if n := len(merged); n > 0 {
			merged[n-1].end = pending.end
		} else {
			merged = append(merged, *pending)
		}
	}

	blocks := make([]*models.Block, 0, len(merged))
	for i, s := range merged {
		raw := text[s.start:s.end]
		trimmed := strings.TrimSpace(raw)
		start := s.start + strings.Index(raw, trimmed)
		blocks = append(blocks, &models.Block{
			BlockID:    models.BlockID(docID, i),
			DocID:      docID,
			BlockIndex: i,
			Text:       trimmed,
			BlockType:  "paragraph",
			CharStart:  start,
			CharEnd:    start + len(trimmed),
			TokenCount: len(strings.Fields(trimmed)),
			CreatedAt:  now,
		})
	}
	return blocks
}
