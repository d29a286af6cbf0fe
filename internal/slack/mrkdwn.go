package slack

import (
	"strconv"
	"strings"

	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

var mrkdwnEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// MarkdownToMrkdwn converts the Markdown a language model tends to produce
// into Slack's mrkdwn dialect.
func MarkdownToMrkdwn(md string) string {
	// math spans would swallow dollar amounts
	extensions := parser.CommonExtensions &^ parser.MathJax
	doc := parser.NewWithExtensions(extensions).Parse([]byte(md))

	w := &mrkdwnWriter{}
	ast.WalkFunc(doc, w.visit)
	return strings.TrimSpace(w.buf.String())
}

type mrkdwnWriter struct {
	buf   strings.Builder
	lists []int // next ordinal per open list, 0 for bullet lists
}

func (w *mrkdwnWriter) visit(node ast.Node, entering bool) ast.WalkStatus {
	switch n := node.(type) {
	case *ast.Text:
		if entering {
			w.buf.WriteString(mrkdwnEscaper.Replace(string(n.Literal)))
		}
	case *ast.Strong:
		w.buf.WriteString("*")
	case *ast.Emph:
		w.buf.WriteString("_")
	case *ast.Del:
		w.buf.WriteString("~")
	case *ast.Code:
		w.buf.WriteString("`" + string(n.Literal) + "`")
	case *ast.CodeBlock:
		w.buf.WriteString("```\n" + strings.TrimRight(string(n.Literal), "\n") + "\n```\n\n")
	case *ast.HTMLSpan:
		w.buf.WriteString(mrkdwnEscaper.Replace(string(n.Literal)))
	case *ast.HTMLBlock:
		w.buf.WriteString(mrkdwnEscaper.Replace(string(n.Literal)) + "\n\n")
	case *ast.Softbreak, *ast.Hardbreak:
		w.buf.WriteString("\n")
	case *ast.Link:
		if entering {
			w.buf.WriteString("<" + string(n.Destination) + "|")
		} else {
			w.buf.WriteString(">")
		}
	case *ast.Heading:
		if entering {
			w.buf.WriteString("*")
		} else {
			w.buf.WriteString("*\n\n")
		}
	case *ast.BlockQuote:
		if entering {
			w.buf.WriteString("> ")
		}
	case *ast.Paragraph:
		if !entering {
			if _, inItem := n.Parent.(*ast.ListItem); inItem {
				w.buf.WriteString("\n")
			} else {
				w.buf.WriteString("\n\n")
			}
		}
	case *ast.List:
		if entering {
			next := 0
			if n.ListFlags&ast.ListTypeOrdered != 0 {
				next = n.Start
				if next == 0 {
					next = 1
				}
			}
			w.lists = append(w.lists, next)
		} else {
			w.lists = w.lists[:len(w.lists)-1]
			w.newline()
			if len(w.lists) == 0 {
				w.buf.WriteString("\n")
			}
		}
	case *ast.ListItem:
		if entering && len(w.lists) > 0 {
			w.newline()
			depth := len(w.lists) - 1
			w.buf.WriteString(strings.Repeat("    ", depth))
			if next := w.lists[depth]; next > 0 {
				w.buf.WriteString(strconv.Itoa(next) + ". ")
				w.lists[depth]++
			} else {
				w.buf.WriteString("• ")
			}
		}
	}
	return ast.GoToNext
}

func (w *mrkdwnWriter) newline() {
	if s := w.buf.String(); s != "" && !strings.HasSuffix(s, "\n") {
		w.buf.WriteString("\n")
	}
}
