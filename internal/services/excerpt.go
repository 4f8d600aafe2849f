package services

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/marswin2024/jira-confluence-digest/internal/domain"
)

// excerptLimit bounds the page snippet shown in the digest.
const excerptLimit = 500

// htmlExcerpt flattens a rendered Confluence body to plain text and cuts it
// to excerptLimit. An unparseable body yields an empty excerpt rather
// than leaking markup into the email.
func htmlExcerpt(body string, limit int) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}
	text := strings.Join(strings.Fields(doc.Text()), " ")
	return domain.Truncate(text, limit)
}
