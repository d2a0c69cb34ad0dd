package tgmd

import (
	"strings"
	"testing"
)

func expect(t *testing.T, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBasicText(t *testing.T) {
	expect(t, Render("Hello world"), "Hello world")
}

func TestBold(t *testing.T) {
	expect(t, Render("Hello **world**"), "Hello <b>world</b>")
}

func TestItalic(t *testing.T) {
	expect(t, Render("Hello *world*"), "Hello <i>world</i>")
}

func TestStrikethrough(t *testing.T) {
	expect(t, Render("Hello ~~world~~"), "Hello <s>world</s>")
}

func TestHeadingsBecomeBold(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"# Title", "<b>Title</b>"},
		{"## Subtitle", "<b>Subtitle</b>"},
	}
	for _, tt := range tests {
		expect(t, Render(tt.in), tt.want)
	}
}

func TestInlineCode(t *testing.T) {
	expect(t, Render("Use `fmt.Println`"), "Use <code>fmt.Println</code>")
}

func TestFencedCodeBlock(t *testing.T) {
	got := Render("```go\nfmt.Println(\"hi\")\n```")
	if !strings.Contains(got, "<pre><code class=\"language-go\">") {
		t.Errorf("missing language class, got: %q", got)
	}
	if !strings.Contains(got, "fmt.Println(&quot;hi&quot;)") && !strings.Contains(got, "fmt.Println(\"hi\")") {
		t.Errorf("missing code body, got: %q", got)
	}
}

func TestEscapesHTML(t *testing.T) {
	got := Render("a <script> & b")
	if !strings.Contains(got, "&lt;script&gt;") || !strings.Contains(got, "&amp;") {
		t.Errorf("unescaped HTML, got: %q", got)
	}
}

func TestLink(t *testing.T) {
	expect(t, Render("[site](https://example.com)"), "<a href=\"https://example.com\">site</a>")
}

func TestUnorderedList(t *testing.T) {
	got := Render("- one\n- two")
	if !strings.Contains(got, "• one") || !strings.Contains(got, "• two") {
		t.Errorf("list bullets missing, got: %q", got)
	}
}

func TestTableAsRows(t *testing.T) {
	got := Render("| a | b |\n|---|---|\n| 1 | 2 |")
	if !strings.Contains(got, "<b>a | b</b>") {
		t.Errorf("header row missing, got: %q", got)
	}
	if !strings.Contains(got, "1 | 2") {
		t.Errorf("data row missing, got: %q", got)
	}
}
