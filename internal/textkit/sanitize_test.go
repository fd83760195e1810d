package textkit

import (
	"strings"
	"testing"
)

func TestSanitize_StripsControls(t *testing.T) {
	in := "hello\x00world\x07 keep\ttabs\nand newlines"
	out := Sanitize(in, SanitizeOptions{})
	if strings.ContainsAny(out, "\x00\x07") {
		t.Fatalf("control chars survived: %q", out)
	}
	if !strings.Contains(out, "keep\ttabs\nand") {
		t.Fatalf("tab/newline should survive by default: %q", out)
	}
}

func TestSanitize_DropNewlines(t *testing.T) {
	out := Sanitize("a\tb\nc\rd", SanitizeOptions{DropNewlines: true})
	if strings.ContainsAny(out, "\t\n\r") {
		t.Fatalf("whitespace controls survived: %q", out)
	}
}

func TestSanitize_NFKC(t *testing.T) {
	// Full-width letters and the ﬁ ligature fold under NFKC.
	out := Sanitize("ｆｏｏ ﬁsh", SanitizeOptions{})
	if out != "foo fish" {
		t.Fatalf("NFKC fold = %q, want %q", out, "foo fish")
	}
}

func TestSanitize_Entities(t *testing.T) {
	out := Sanitize("a &amp; b &lt;c&gt;", SanitizeOptions{DecodeEntities: true})
	if out != "a & b <c>" {
		t.Fatalf("entity decode = %q", out)
	}
}

func TestSanitize_Markdown(t *testing.T) {
	in := "# Title\nSee [the docs](https://example.com) and **bold** `code`."
	out := Sanitize(in, SanitizeOptions{StripMarkdown: true})
	if strings.Contains(out, "](") || strings.Contains(out, "**") || strings.Contains(out, "#") {
		t.Fatalf("markdown survived: %q", out)
	}
	if !strings.Contains(out, "the docs") {
		t.Fatalf("link text lost: %q", out)
	}
}

func TestCollapseWhitespace(t *testing.T) {
	if got := CollapseWhitespace("  a \t b\n\nc  "); got != "a b c" {
		t.Fatalf("got %q", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	if EstimateTokens("") != 0 {
		t.Fatal("empty string should estimate 0")
	}
	if EstimateTokens("a") < 1 {
		t.Fatal("non-empty string should estimate at least 1")
	}
	short := EstimateTokens("one two three")
	long := EstimateTokens(strings.Repeat("one two three ", 50))
	if long <= short {
		t.Fatalf("longer text should estimate more tokens (%d vs %d)", long, short)
	}
	// chars/4 floor: 400 ASCII letters with no spaces is at least 100 tokens.
	if got := EstimateTokens(strings.Repeat("x", 400)); got < 100 {
		t.Fatalf("chars/4 floor violated: %d", got)
	}
	// Non-ASCII text costs more than the same number of ASCII words.
	ascii := EstimateTokens("hello world hello world")
	cjk := EstimateTokens("你好世界你好世界你好世界你好世界")
	if cjk <= ascii/2 {
		t.Fatalf("expected non-ASCII penalty, ascii=%d cjk=%d", ascii, cjk)
	}
	// Deterministic.
	if EstimateTokens("same input") != EstimateTokens("same input") {
		t.Fatal("estimate must be deterministic")
	}
}
