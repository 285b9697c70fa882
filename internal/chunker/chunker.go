// Package chunker splits extracted text into overlapping, size-bounded
// segments for embedding and retrieval.
package chunker

import (
	"regexp"
	"strings"
)

// Piece is one output segment. TokenCount is the whitespace-token count of
// Text, overlap included.
type Piece struct {
	Text       string
	TokenCount int
}

// Chunker splits text hierarchically: paragraph units first, oversize units
// at sentence boundaries, and a fixed-size token split as a last resort for
// a single oversize sentence. Consecutive pieces carry the previous piece's
// trailing overlap tokens prepended, so a sentence straddling a boundary is
// fully contained in at least one piece.
//
// Chunk is a pure function of (text, targetTokens, overlapTokens): the same
// input always yields the same sequence, so re-chunking on retry is
// idempotent.
type Chunker struct {
	targetTokens  int
	overlapTokens int
}

// New creates a chunker. target must be positive; overlap is clamped below
// target so packing always makes progress.
func New(targetTokens, overlapTokens int) *Chunker {
	if targetTokens <= 0 {
		targetTokens = 400
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	if overlapTokens >= targetTokens {
		overlapTokens = targetTokens - 1
	}
	return &Chunker{targetTokens: targetTokens, overlapTokens: overlapTokens}
}

// headingLine matches Markdown-style headings, which start a new unit even
// without a preceding blank line.
var headingLine = regexp.MustCompile(`^#{1,6}\s`)

// sentenceEnd matches a sentence terminator followed by whitespace.
var sentenceEnd = regexp.MustCompile(`([.!?]["')\]]?)\s+`)

// Chunk splits text into an ordered, finite sequence of pieces. Every piece
// holds at most targetTokens+overlapTokens tokens. Empty or whitespace-only
// text yields nil.
func (c *Chunker) Chunk(text string) []Piece {
	fragments := c.fragments(text)
	if len(fragments) == 0 {
		return nil
	}
	bases := c.pack(fragments)

	pieces := make([]Piece, 0, len(bases))
	var prevTail []string
	for _, base := range bases {
		words := strings.Fields(base)
		var out []string
		if len(prevTail) > 0 {
			out = append(append([]string{}, prevTail...), words...)
		} else {
			out = words
		}
		pieces = append(pieces, Piece{
			Text:       strings.Join(out, " "),
			TokenCount: len(out),
		})
		prevTail = tail(words, c.overlapTokens)
	}
	return pieces
}

// fragments splits text into ordered fragments of at most targetTokens each:
// paragraph/heading units, then sentences for oversize units, then hard
// token windows for a single oversize sentence.
func (c *Chunker) fragments(text string) []string {
	var out []string
	for _, unit := range splitUnits(text) {
		if countTokens(unit) <= c.targetTokens {
			out = append(out, unit)
			continue
		}
		for _, sentence := range splitSentences(unit) {
			if countTokens(sentence) <= c.targetTokens {
				out = append(out, sentence)
				continue
			}
			out = append(out, hardSplit(sentence, c.targetTokens)...)
		}
	}
	return out
}

// pack greedily merges consecutive fragments into base segments of at most
// targetTokens, so small paragraphs and split sentences regroup into
// near-target chunks.
func (c *Chunker) pack(fragments []string) []string {
	var bases []string
	var cur []string
	curTokens := 0
	for _, frag := range fragments {
		n := countTokens(frag)
		if curTokens > 0 && curTokens+n > c.targetTokens {
			bases = append(bases, strings.Join(cur, " "))
			cur = cur[:0]
			curTokens = 0
		}
		cur = append(cur, frag)
		curTokens += n
	}
	if curTokens > 0 {
		bases = append(bases, strings.Join(cur, " "))
	}
	return bases
}

// splitUnits splits text at blank lines and before heading lines, dropping
// empty units.
func splitUnits(text string) []string {
	lines := strings.Split(text, "\n")
	var units []string
	var cur []string
	flush := func() {
		joined := strings.TrimSpace(strings.Join(cur, " "))
		if joined != "" {
			units = append(units, joined)
		}
		cur = cur[:0]
	}
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			continue
		}
		if headingLine.MatchString(trimmed) {
			flush()
		}
		cur = append(cur, trimmed)
	}
	flush()
	return units
}

// splitSentences splits a unit at sentence terminators, keeping the
// terminator with its sentence.
func splitSentences(unit string) []string {
	locs := sentenceEnd.FindAllStringIndex(unit, -1)
	if len(locs) == 0 {
		return []string{unit}
	}
	var sentences []string
	start := 0
	for _, loc := range locs {
		end := loc[0] + len(sentenceEnd.FindStringSubmatch(unit[loc[0]:loc[1]])[1])
		s := strings.TrimSpace(unit[start:end])
		if s != "" {
			sentences = append(sentences, s)
		}
		start = loc[1]
	}
	if rest := strings.TrimSpace(unit[start:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// hardSplit cuts a single oversize sentence into fixed windows of at most
// target tokens.
func hardSplit(sentence string, target int) []string {
	words := strings.Fields(sentence)
	var out []string
	for i := 0; i < len(words); i += target {
		end := i + target
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[i:end], " "))
	}
	return out
}

func countTokens(s string) int {
	return len(strings.Fields(s))
}

func tail(words []string, n int) []string {
	if n <= 0 || len(words) == 0 {
		return nil
	}
	if n > len(words) {
		n = len(words)
	}
	return words[len(words)-n:]
}
