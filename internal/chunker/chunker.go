// Package chunker splits extracted document text into bounded-size segments
// suitable for model context windows. It is a pure function over text: no
// I/O, no state.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Default size bounds, in runes.
const (
	DefaultMinSize = 500
	DefaultMaxSize = 800
)

// overflowFactor tolerates a modest overshoot of maxSize rather than
// emitting an undersized segment; resplitFactor is the threshold above
// which a segment is re-split on sentence boundaries.
const (
	overflowFactor = 1.2
	resplitFactor  = 1.5
)

// Segment is one bounded slice of a document's text. Position is the
// sequence index within the source document.
type Segment struct {
	Content  string `json:"content"`
	Position int    `json:"position"`
}

var (
	paragraphSplit = regexp.MustCompile(`\n\s*\n`)
	sentenceEnd    = regexp.MustCompile(`[。！？.!?]+[\s]*`)
)

// Chunk splits text into ordered segments. Paragraphs (blank-line separated)
// are greedily packed up to maxSize runes; a buffer that already reached
// minSize is flushed instead of overflowing. Segments that still exceed
// maxSize*1.5 are re-split on sentence boundaries and re-packed to maxSize.
// For non-empty input the result is always non-empty: pathological text with
// no usable structure falls back to a single head slice of maxSize runes.
//
// Passing min/max <= 0 selects the defaults.
func Chunk(text string, minSize, maxSize int) []Segment {
	if minSize <= 0 {
		minSize = DefaultMinSize
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	packed := packParagraphs(splitParagraphs(text), minSize, maxSize)

	resplitLimit := int(float64(maxSize) * resplitFactor)
	var contents []string
	for _, p := range packed {
		if utf8.RuneCountInString(p) > resplitLimit {
			contents = append(contents, packSentences(p, maxSize)...)
			continue
		}
		contents = append(contents, p)
	}

	// Last resort for input with no paragraph or sentence structure at all:
	// a single segment of the first maxSize runes of the original text, so
	// any non-empty input yields at least one segment.
	if len(contents) == 0 && text != "" {
		contents = []string{headRunes(text, maxSize)}
	}

	segments := make([]Segment, 0, len(contents))
	for i, c := range contents {
		segments = append(segments, Segment{Content: c, Position: i})
	}
	return segments
}

// splitParagraphs cuts text on blank-line boundaries and drops paragraphs
// that are empty after trimming.
func splitParagraphs(text string) []string {
	var paras []string
	for _, p := range paragraphSplit.Split(text, -1) {
		p = strings.TrimSpace(p)
		if p != "" {
			paras = append(paras, p)
		}
	}
	return paras
}

// packParagraphs greedily accumulates paragraphs into segments. Lengths are
// counted in runes; joining a paragraph onto a non-empty buffer costs one
// separator rune.
func packParagraphs(paras []string, minSize, maxSize int) []string {
	var (
		out    []string
		buf    strings.Builder
		bufLen int
	)
	overflowLimit := int(float64(maxSize) * overflowFactor)

	flush := func() {
		if bufLen > 0 {
			out = append(out, buf.String())
			buf.Reset()
			bufLen = 0
		}
	}
	add := func(p string, plen int) {
		if bufLen > 0 {
			buf.WriteString("\n")
			bufLen++
		}
		buf.WriteString(p)
		bufLen += plen
	}

	for _, p := range paras {
		plen := utf8.RuneCountInString(p)
		sep := 0
		if bufLen > 0 {
			sep = 1
		}
		switch {
		case bufLen+sep+plen <= maxSize:
			add(p, plen)
		case bufLen >= minSize:
			flush()
			add(p, plen)
		case bufLen+sep+plen <= overflowLimit:
			add(p, plen)
		default:
			flush()
			add(p, plen)
		}
	}
	flush()
	return out
}

// packSentences splits a segment on sentence boundaries and re-packs the
// sentences greedily up to maxSize, with no minimum-size tolerance. A single
// sentence longer than maxSize is kept whole.
func packSentences(text string, maxSize int) []string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return []string{text}
	}

	var (
		out    []string
		buf    strings.Builder
		bufLen int
	)
	for _, s := range sentences {
		slen := utf8.RuneCountInString(s)
		if bufLen > 0 && bufLen+slen > maxSize {
			out = append(out, strings.TrimSpace(buf.String()))
			buf.Reset()
			bufLen = 0
		}
		buf.WriteString(s)
		bufLen += slen
	}
	if bufLen > 0 {
		out = append(out, strings.TrimSpace(buf.String()))
	}
	return out
}

// splitSentences cuts text after terminal punctuation (CJK or Latin),
// keeping the punctuation and any trailing whitespace with the sentence.
func splitSentences(text string) []string {
	var sentences []string
	rest := text
	for rest != "" {
		loc := sentenceEnd.FindStringIndex(rest)
		if loc == nil {
			if strings.TrimSpace(rest) != "" {
				sentences = append(sentences, rest)
			}
			break
		}
		sentences = append(sentences, rest[:loc[1]])
		rest = rest[loc[1]:]
	}
	return sentences
}

func headRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
