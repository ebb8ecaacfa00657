package extract

import (
	"strings"
	"testing"
)

func TestFromText_NormalizesLineEndings(t *testing.T) {
	got := FromText("first line\r\nsecond line\r\n\r\n\r\n\r\nthird paragraph")
	want := "first line\nsecond line\n\nthird paragraph"
	if got != want {
		t.Errorf("FromText = %q, want %q", got, want)
	}
}

func TestFromText_TrimsSurroundingWhitespace(t *testing.T) {
	if got := FromText("\n\n  body  \n\n"); got != "body" {
		t.Errorf("FromText = %q", got)
	}
}

func TestFromHTML_ExtractsVisibleText(t *testing.T) {
	page := `<!DOCTYPE html>
<html>
<head><title>ignored title</title><style>p { color: red; }</style></head>
<body>
<script>var hidden = "never shown";</script>
<h1>Heading</h1>
<p>First paragraph with <b>bold</b> text.</p>
<p>Second paragraph.</p>
</body>
</html>`

	got, err := FromHTML(strings.NewReader(page))
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}

	if strings.Contains(got, "hidden") || strings.Contains(got, "color: red") || strings.Contains(got, "ignored title") {
		t.Errorf("extracted script/style/head content: %q", got)
	}
	for _, want := range []string{"Heading", "First paragraph with bold text.", "Second paragraph."} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
}

func TestFromHTML_BlockBoundariesBecomeParagraphBreaks(t *testing.T) {
	got, err := FromHTML(strings.NewReader("<div>alpha</div><div>beta</div>"))
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}

	paragraphs := strings.Split(got, "\n\n")
	if len(paragraphs) != 2 || paragraphs[0] != "alpha" || paragraphs[1] != "beta" {
		t.Errorf("paragraphs = %q", paragraphs)
	}
}

func TestFromHTML_SelfClosingScriptDoesNotSwallowText(t *testing.T) {
	got, err := FromHTML(strings.NewReader(`<body><script/><p>still visible</p></body>`))
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}
	if !strings.Contains(got, "still visible") {
		t.Errorf("text after self-closing script lost: %q", got)
	}
}

func TestFromPDF_RejectsGarbage(t *testing.T) {
	if _, err := FromPDF([]byte("not a pdf")); err == nil {
		t.Error("FromPDF accepted non-PDF input")
	}
}
