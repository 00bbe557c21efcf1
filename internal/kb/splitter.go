// Package kb answers lead questions from a markdown knowledge base: files
// are split by heading, embedded into the vector store, and queried as the
// orchestrator's last content fallback.
package kb

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Section is one heading-delimited slice of a markdown document.
type Section struct {
	Heading string
	Level   int
	Content string
}

// SplitMarkdown splits a markdown document at its headings. Content before
// the first heading becomes a section with an empty heading. Sections whose
// body is empty are dropped.
func SplitMarkdown(src []byte) []Section {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(src))

	type mark struct {
		level        int
		title        string
		lineStart    int
		contentStart int
	}
	var marks []mark
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok {
			continue
		}
		lines := h.Lines()
		if lines.Len() == 0 {
			continue
		}
		seg := lines.At(0)
		marks = append(marks, mark{
			level:        h.Level,
			title:        headingTitle(h, src),
			lineStart:    lineStart(src, seg.Start),
			contentStart: seg.Stop,
		})
	}

	var sections []Section
	appendSection := func(heading string, level int, body []byte) {
		content := strings.TrimSpace(string(body))
		if content == "" {
			return
		}
		sections = append(sections, Section{Heading: heading, Level: level, Content: content})
	}

	if len(marks) == 0 {
		appendSection("", 0, src)
		return sections
	}

	appendSection("", 0, src[:marks[0].lineStart])
	for i, m := range marks {
		end := len(src)
		if i+1 < len(marks) {
			end = marks[i+1].lineStart
		}
		appendSection(m.title, m.level, src[m.contentStart:end])
	}
	return sections
}

// headingTitle collects the plain text of a heading node.
func headingTitle(h *ast.Heading, src []byte) string {
	var b strings.Builder
	for n := h.FirstChild(); n != nil; n = n.NextSibling() {
		if t, ok := n.(*ast.Text); ok {
			b.Write(t.Segment.Value(src))
		}
	}
	return strings.TrimSpace(b.String())
}

// lineStart walks back from pos to the start of its line.
func lineStart(src []byte, pos int) int {
	for pos > 0 && src[pos-1] != '\n' {
		pos--
	}
	return pos
}
