package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/marswin2024/jira-confluence-digest/internal/domain"
)

//go:embed digest.html
var templates embed.FS

// Renderer converts a DigestReport into the HTML and plain-text email
// bodies. Structured data in, formatted text out; it never mutates the
// report.
type Renderer struct {
	tmpl *template.Template
}

func New() (*Renderer, error) {
	tmpl, err := template.ParseFS(templates, "digest.html")
	if err != nil {
		return nil, fmt.Errorf("parse digest template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

func (r *Renderer) Render(report domain.DigestReport) (string, string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, report); err != nil {
		return "", "", fmt.Errorf("render digest html: %w", err)
	}
	return buf.String(), plainText(report), nil
}

// plainText is the fallback body for clients that cannot display HTML.
func plainText(report domain.DigestReport) string {
	rule := strings.Repeat("=", 60)
	sub := strings.Repeat("-", 60)
	var b strings.Builder
	b.WriteString(rule + "\n")
	b.WriteString("DAILY JIRA & CONFLUENCE DIGEST\n")
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", report.GeneratedAt.Format("02.01.2006 15:04"))

	b.WriteString("JIRA UPDATES\n" + sub + "\n")
	jiraTotal := len(report.NewTickets) + len(report.StatusChanges) +
		len(report.AssignmentChanges) + len(report.NewComments)
	if jiraTotal == 0 {
		b.WriteString("No Jira updates.\n")
	} else {
		if len(report.NewTickets) > 0 {
			fmt.Fprintf(&b, "NEW TICKETS (%d)\n", len(report.NewTickets))
			for _, t := range report.NewTickets {
				fmt.Fprintf(&b, "  - %s: %s\n", t.Key, t.Summary)
				fmt.Fprintf(&b, "    Project: %s | Status: %s | Assignee: %s\n", t.Project, t.Status, t.Assignee)
				fmt.Fprintf(&b, "    URL: %s\n\n", t.URL)
			}
		}
		if len(report.StatusChanges) > 0 {
			fmt.Fprintf(&b, "STATUS CHANGES (%d)\n", len(report.StatusChanges))
			for _, t := range report.StatusChanges {
				fmt.Fprintf(&b, "  - %s: %s\n", t.Key, t.Summary)
				for _, c := range t.Changes {
					fmt.Fprintf(&b, "    %s -> %s\n", c.From, c.To)
				}
				b.WriteString("\n")
			}
		}
		if len(report.AssignmentChanges) > 0 {
			fmt.Fprintf(&b, "ASSIGNMENT CHANGES (%d)\n", len(report.AssignmentChanges))
			for _, t := range report.AssignmentChanges {
				fmt.Fprintf(&b, "  - %s: %s\n", t.Key, t.Summary)
				for _, c := range t.Changes {
					fmt.Fprintf(&b, "    %s -> %s\n", c.From, c.To)
				}
				b.WriteString("\n")
			}
		}
		if len(report.NewComments) > 0 {
			fmt.Fprintf(&b, "NEW COMMENTS (%d)\n", len(report.NewComments))
			for _, t := range report.NewComments {
				fmt.Fprintf(&b, "  - %s: %s\n", t.Key, t.Summary)
				for _, c := range t.Changes {
					fmt.Fprintf(&b, "    %s: %s\n", c.Author, c.Text)
				}
				b.WriteString("\n")
			}
		}
	}

	b.WriteString("\nCONFLUENCE UPDATES\n" + sub + "\n")
	if len(report.UpdatedPages) == 0 {
		b.WriteString("No Confluence updates.\n")
	} else {
		fmt.Fprintf(&b, "%d page(s) updated:\n\n", len(report.UpdatedPages))
		for _, p := range report.UpdatedPages {
			fmt.Fprintf(&b, "  - %s\n", p.Title)
			fmt.Fprintf(&b, "    Space: %s\n", p.SpaceName)
			fmt.Fprintf(&b, "    By: %s\n", p.UpdatedBy)
			fmt.Fprintf(&b, "    URL: %s\n\n", p.URL)
		}
	}

	b.WriteString("\n" + rule + "\n")
	return b.String()
}
