// Package extract converts ingested sources (plain text, HTML pages, PDF
// files) into the plain text the chunker operates on.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

var collapseBlank = regexp.MustCompile(`\n{3,}`)

// FromText normalizes raw text input: CRLF to LF, runs of blank lines
// collapsed to one paragraph break.
func FromText(raw string) string {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = collapseBlank.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// FromPDF extracts the plain text of a PDF document.
func FromPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}

	rc, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}

	return FromText(buf.String()), nil
}

// Elements whose text content is never document prose.
var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"head":     true,
}

// Elements that end a block of prose; their boundaries become paragraph
// breaks in the extracted text.
var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "blockquote": true, "pre": true, "br": true,
	"tr": true, "table": true,
}

// FromHTML extracts the visible text of an HTML page, dropping script and
// style content and turning block element boundaries into paragraph breaks.
func FromHTML(r io.Reader) (string, error) {
	tokenizer := html.NewTokenizer(r)

	var b strings.Builder
	skipDepth := 0
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			if err := tokenizer.Err(); err != io.EOF {
				return "", fmt.Errorf("parsing html: %w", err)
			}
			return FromText(b.String()), nil
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if skipElements[tag] {
				// A self-closing skip element has no end tag to balance the
				// depth, so only a real start tag opens a skip region.
				if tt == html.StartTagToken {
					skipDepth++
				}
				continue
			}
			if blockElements[tag] {
				b.WriteString("\n\n")
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if skipElements[tag] && skipDepth > 0 {
				skipDepth--
				continue
			}
			if blockElements[tag] {
				b.WriteString("\n\n")
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := strings.TrimSpace(string(tokenizer.Text()))
			if text == "" {
				continue
			}
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
				b.WriteString(" ")
			}
			b.WriteString(text)
		}
	}
}
