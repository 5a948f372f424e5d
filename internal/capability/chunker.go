package capability

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// sentenceRe matches one sentence including its terminator.
var sentenceRe = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)

// SentenceChunker groups whole sentences into chunks of roughly maxChars,
// overlapping the configured number of characters' worth of trailing
// sentences between consecutive chunks. Sentence boundaries are never split.
type SentenceChunker struct {
	maxChars     int
	overlapChars int
}

// NewSentenceChunker creates a sentence chunker with the given size and overlap.
func NewSentenceChunker(maxChars, overlapChars int) *SentenceChunker {
	if maxChars <= 0 {
		maxChars = 1000
	}

	if overlapChars < 0 {
		overlapChars = 0
	}

	return &SentenceChunker{maxChars: maxChars, overlapChars: overlapChars}
}

// Split implements Chunker.
func (c *SentenceChunker) Split(text string) []Span {
	locs := sentenceRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		if strings.TrimSpace(text) == "" {
			return nil
		}

		locs = [][]int{{0, len(text)}}
	}

	var spans []Span

	start := 0 // index into locs
	for start < len(locs) {
		end := start
		size := 0

		for end < len(locs) {
			size += locs[end][1] - locs[end][0]
			end++

			if size >= c.maxChars {
				break
			}
		}

		spans = append(spans, Span{
			Text:      strings.TrimSpace(text[locs[start][0]:locs[end-1][1]]),
			ByteStart: locs[start][0],
			ByteEnd:   locs[end-1][1],
		})

		if end == len(locs) {
			break
		}

		// Back up whole sentences until the overlap budget is covered.
		next := end
		covered := 0

		for next > start+1 && covered < c.overlapChars {
			next--
			covered += locs[next][1] - locs[next][0]
		}

		start = next
	}

	return spans
}

// CharacterChunker slices text into fixed-size windows with overlap, snapping
// boundaries back to rune starts so multi-byte characters are never split.
type CharacterChunker struct {
	size    int
	overlap int
}

// NewCharacterChunker creates a character chunker with the given size and overlap.
func NewCharacterChunker(size, overlap int) *CharacterChunker {
	if size <= 0 {
		size = 1000
	}

	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	return &CharacterChunker{size: size, overlap: overlap}
}

// Split implements Chunker.
func (c *CharacterChunker) Split(text string) []Span {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var spans []Span

	start := 0
	for start < len(text) {
		end := start + c.size
		if end >= len(text) {
			end = len(text)
		} else {
			for end > start && !utf8.RuneStart(text[end]) {
				end--
			}
		}

		spans = append(spans, Span{
			Text:      text[start:end],
			ByteStart: start,
			ByteEnd:   end,
		})

		if end == len(text) {
			break
		}

		next := end - c.overlap
		for next > start && !utf8.RuneStart(text[next]) {
			next--
		}

		if next <= start {
			next = end
		}

		start = next
	}

	return spans
}

// ParagraphChunker splits on blank lines, merging consecutive paragraphs until
// the size budget is reached. Paragraphs larger than the budget become a
// single oversized chunk rather than being split mid-paragraph.
type ParagraphChunker struct {
	maxChars int
}

var paragraphSep = regexp.MustCompile(`\n\s*\n`)

// NewParagraphChunker creates a paragraph chunker with the given size budget.
func NewParagraphChunker(maxChars int) *ParagraphChunker {
	if maxChars <= 0 {
		maxChars = 1000
	}

	return &ParagraphChunker{maxChars: maxChars}
}

// Split implements Chunker.
func (c *ParagraphChunker) Split(text string) []Span {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	seps := paragraphSep.FindAllStringIndex(text, -1)

	// Paragraph boundaries: [start, end) byte ranges between separators.
	var paras [][2]int

	prev := 0
	for _, sep := range seps {
		if sep[0] > prev {
			paras = append(paras, [2]int{prev, sep[0]})
		}

		prev = sep[1]
	}

	if prev < len(text) {
		paras = append(paras, [2]int{prev, len(text)})
	}

	var spans []Span

	i := 0
	for i < len(paras) {
		start := paras[i][0]
		end := paras[i][1]
		i++

		for i < len(paras) && (paras[i][1]-start) <= c.maxChars {
			end = paras[i][1]
			i++
		}

		chunk := strings.TrimSpace(text[start:end])
		if chunk == "" {
			continue
		}

		spans = append(spans, Span{Text: chunk, ByteStart: start, ByteEnd: end})
	}

	return spans
}
