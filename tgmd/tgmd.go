// Package tgmd renders Markdown as Telegram-compatible HTML.
//
// Telegram's Bot API accepts only a small HTML subset, so unsupported
// Markdown constructs degrade to approximations: headings become bold
// lines, tables become pipe-separated rows, images become links.
package tgmd

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Render converts Markdown into Telegram-compatible HTML.
func Render(markdown string) string {
	source := []byte(markdown)
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(source))

	var w writer
	w.source = source
	w.blocks(doc)
	return strings.TrimRight(w.out.String(), "\n ")
}

type writer struct {
	source []byte
	out    bytes.Buffer
	depth  int
}

func escape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

func (w *writer) blocks(parent ast.Node) {
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		w.block(n)
	}
}

func (w *writer) block(node ast.Node) {
	switch n := node.(type) {
	case *ast.Heading:
		w.out.WriteString("<b>")
		w.inlines(n)
		w.out.WriteString("</b>\n\n")

	case *ast.Paragraph:
		w.inlines(n)
		w.out.WriteString("\n\n")

	case *ast.TextBlock:
		w.inlines(n)
		w.out.WriteByte('\n')

	case *ast.Blockquote:
		inner := writer{source: w.source}
		inner.blocks(n)
		w.out.WriteString("<blockquote>")
		w.out.WriteString(strings.TrimRight(inner.out.String(), "\n "))
		w.out.WriteString("</blockquote>\n\n")

	case *ast.List:
		w.list(n)

	case *ast.FencedCodeBlock:
		if lang := string(n.Language(w.source)); lang != "" {
			fmt.Fprintf(&w.out, "<pre><code class=\"language-%s\">", escape(lang))
		} else {
			w.out.WriteString("<pre><code>")
		}
		w.rawLines(n)
		w.out.WriteString("</code></pre>\n\n")

	case *ast.CodeBlock:
		w.out.WriteString("<pre><code>")
		w.rawLines(n)
		w.out.WriteString("</code></pre>\n\n")

	case *ast.ThematicBreak:
		w.out.WriteString("----------\n\n")

	case *ast.HTMLBlock:
		w.rawLines(n)
		w.out.WriteByte('\n')

	default:
		if t, ok := node.(*east.Table); ok {
			w.table(t)
			return
		}
		if node.HasChildren() {
			w.blocks(node)
		}
	}
}

// rawLines writes a block node's source lines, escaped.
func (w *writer) rawLines(n ast.Node) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		w.out.WriteString(escape(string(seg.Value(w.source))))
	}
}

func (w *writer) inlines(parent ast.Node) {
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		w.inline(n)
	}
}

func (w *writer) inline(node ast.Node) {
	switch n := node.(type) {
	case *ast.Text:
		w.out.WriteString(escape(string(n.Text(w.source))))
		if n.SoftLineBreak() || n.HardLineBreak() {
			w.out.WriteByte('\n')
		}

	case *ast.String:
		w.out.WriteString(escape(string(n.Value)))

	case *ast.Emphasis:
		tag := "i"
		if n.Level == 2 {
			tag = "b"
		}
		fmt.Fprintf(&w.out, "<%s>", tag)
		w.inlines(n)
		fmt.Fprintf(&w.out, "</%s>", tag)

	case *ast.CodeSpan:
		w.out.WriteString("<code>")
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				w.out.WriteString(escape(string(t.Text(w.source))))
			}
		}
		w.out.WriteString("</code>")

	case *ast.Link:
		fmt.Fprintf(&w.out, "<a href=\"%s\">", escape(string(n.Destination)))
		w.inlines(n)
		w.out.WriteString("</a>")

	case *ast.AutoLink:
		url := escape(string(n.URL(w.source)))
		fmt.Fprintf(&w.out, "<a href=\"%s\">%s</a>", url, url)

	case *ast.Image:
		alt := plainText(n, w.source)
		if alt == "" {
			alt = string(n.Destination)
		}
		fmt.Fprintf(&w.out, "<a href=\"%s\">%s</a>", escape(string(n.Destination)), escape(alt))

	case *ast.RawHTML:
		for i := 0; i < n.Segments.Len(); i++ {
			seg := n.Segments.At(i)
			w.out.WriteString(escape(string(seg.Value(w.source))))
		}

	default:
		if s, ok := node.(*east.Strikethrough); ok {
			w.out.WriteString("<s>")
			w.inlines(s)
			w.out.WriteString("</s>")
			return
		}
		if node.HasChildren() {
			w.inlines(node)
		}
	}
}

func (w *writer) list(n *ast.List) {
	idx := 0
	if n.Start > 0 {
		idx = int(n.Start) - 1
	}
	indent := strings.Repeat("  ", w.depth)

	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		item, ok := child.(*ast.ListItem)
		if !ok {
			continue
		}
		if n.IsOrdered() {
			idx++
			fmt.Fprintf(&w.out, "%s%d. ", indent, idx)
		} else {
			w.out.WriteString(indent + "• ")
		}
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			switch cn := c.(type) {
			case *ast.Paragraph, *ast.TextBlock:
				w.inlines(cn)
			case *ast.List:
				w.out.WriteByte('\n')
				w.depth++
				w.list(cn)
				w.depth--
			default:
				w.block(c)
			}
		}
		w.out.WriteByte('\n')
	}
	if w.depth == 0 {
		w.out.WriteByte('\n')
	}
}

// table renders a GFM table as pipe-separated rows, with the header bolded.
func (w *writer) table(t *east.Table) {
	for child := t.FirstChild(); child != nil; child = child.NextSibling() {
		var cells []string
		header := false
		switch row := child.(type) {
		case *east.TableHeader:
			header = true
			for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
				cells = append(cells, plainText(cell, w.source))
			}
		case *east.TableRow:
			for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
				cells = append(cells, plainText(cell, w.source))
			}
		default:
			continue
		}
		line := escape(strings.Join(cells, " | "))
		if header {
			w.out.WriteString("<b>" + line + "</b>\n")
		} else {
			w.out.WriteString(line + "\n")
		}
	}
	w.out.WriteByte('\n')
}

// plainText flattens a node tree into its text content.
func plainText(node ast.Node, source []byte) string {
	var buf bytes.Buffer
	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Text(source))
		case *ast.String:
			buf.Write(t.Value)
		default:
			buf.WriteString(plainText(c, source))
		}
	}
	return buf.String()
}
