// ABOUTME: Turns conversation snapshots into terminal text for the chat viewport
// ABOUTME: Message bodies are markdown, flattened to plain text through the goldmark AST

package main

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/2389/convo-sync/internal/convo"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	selfStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	senderStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	boundaryStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

var markdown = goldmark.New()

// plainText renders a markdown body without markup. Links keep their
// destination in parentheses and code blocks keep their line breaks.
func plainText(body string) string {
	src := []byte(body)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				buf.Write(node.Segment.Value(src))
				switch {
				case node.HardLineBreak():
					buf.WriteByte('\n')
				case node.SoftLineBreak():
					buf.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				buf.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				buf.Write(node.URL(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.Link:
			if !entering && string(node.Destination) != "" {
				fmt.Fprintf(&buf, " (%s)", node.Destination)
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					buf.Write(seg.Value(src))
				}
			}
			return ast.WalkSkipChildren, nil
		case *ast.ListItem:
			if entering {
				buf.WriteString("• ")
			}
		}

		if !entering && n.Type() == ast.TypeBlock && n.NextSibling() != nil {
			if buf.Len() > 0 && !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
				buf.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimRight(buf.String(), "\n")
}

// renderItems lays out every item of the snapshot, oldest first.
func renderItems(st *convo.State, self string, now time.Time) string {
	if st == nil {
		return ""
	}

	var b strings.Builder
	if st.HasMoreHistory {
		b.WriteString(dimStyle.Render("· older messages available (/older) ·"))
		b.WriteString("\n\n")
	}

	for _, it := range st.Items {
		switch it.Kind {
		case convo.ItemDivider:
			b.WriteString(dimStyle.Render("──── " + it.CreatedAt.Format("Mon Jan 2") + " ────"))
			b.WriteString("\n")
		case convo.ItemBoundary:
			b.WriteString(boundaryStyle.Render("──── new messages ────"))
			b.WriteString("\n")
		case convo.ItemDeleted:
			b.WriteString(dimStyle.Render("  (message deleted)"))
			b.WriteString("\n")
		case convo.ItemMessage:
			b.WriteString(renderMessage(it, self, now))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderMessage(it convo.Item, self string, now time.Time) string {
	name := senderStyle.Render(it.Sender)
	if it.Sender == self {
		name = selfStyle.Render(it.Sender)
	}

	when := ""
	if !it.CreatedAt.IsZero() {
		when = humanize.RelTime(it.CreatedAt, now, "ago", "from now")
	}

	var b strings.Builder
	b.WriteString(name)
	if when != "" {
		b.WriteString(dimStyle.Render(" · " + when))
	}
	switch it.Delivery {
	case convo.DeliveryPending:
		b.WriteString(dimStyle.Render(" · sending…"))
	case convo.DeliveryFailed:
		b.WriteString(errorStyle.Render(fmt.Sprintf(" · failed: %s (/retry %s)", it.SendError, it.CorrelationID)))
	}
	b.WriteString("\n")

	for _, line := range strings.Split(plainText(it.Body), "\n") {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// statusLine summarizes the agent status, typing users and any error.
func statusLine(st *convo.State) string {
	if st == nil {
		return dimStyle.Render("connecting…")
	}

	parts := []string{string(st.Status)}
	if st.IsFetchingHistory {
		parts = append(parts, "loading")
	}
	if st.Retrying {
		parts = append(parts, "retrying")
	}
	line := dimStyle.Render(strings.Join(parts, " · "))

	if len(st.Typing) > 0 {
		verb := "is"
		if len(st.Typing) > 1 {
			verb = "are"
		}
		line += "  " + boundaryStyle.Render(fmt.Sprintf("%s %s typing…", strings.Join(st.Typing, ", "), verb))
	}
	if st.Error != nil {
		line += "  " + errorStyle.Render(fmt.Sprintf("%s: %s", st.Error.Kind, st.Error.Message))
	}
	return line
}

// renderInfo is the secondary screen shown while the chat is unfocused.
func renderInfo(st *convo.State, self, baseURL string) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Conversation info"))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "  server:     %s\n", baseURL)
	fmt.Fprintf(&b, "  viewer:     %s\n", self)
	if st != nil {
		fmt.Fprintf(&b, "  convo:      %s\n", st.ConvoID)
		fmt.Fprintf(&b, "  status:     %s\n", st.Status)
		fmt.Fprintf(&b, "  messages:   %s\n", humanize.Comma(int64(len(st.Messages()))))
		fmt.Fprintf(&b, "  latest seq: %d\n", st.LatestSeq)
		fmt.Fprintf(&b, "  read up to: %d\n", st.ReadUpTo)
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("  tab returns to the chat"))
	return b.String()
}
