package services

import (
	"context"
	"fmt"

	"github.com/marswin2024/jira-confluence-digest/internal/adapters/jira"
	"github.com/marswin2024/jira-confluence-digest/internal/domain"
)

const (
	// commentBodyLimit bounds comment text in the report. Truncation happens
	// here, once, and nowhere downstream.
	commentBodyLimit = 200
	historyPageSize  = 100
)

var changelogField = map[domain.ChangeKind]string{
	domain.StatusChange:   "status",
	domain.AssigneeChange: "assignee",
}

// changeEvents fetches an issue's full change history and keeps only entries
// whose timestamp lies inside the window (both bounds inclusive), extracting
// the field matching kind. History order is preserved as returned.
func (s *Service) changeEvents(ctx context.Context, key string, w domain.Window, kind domain.ChangeKind) ([]domain.ChangeEvent, error) {
	field, ok := changelogField[kind]
	if !ok {
		return nil, fmt.Errorf("no changelog field for kind %q", kind)
	}
	var events []domain.ChangeEvent
	for startAt := 0; ; startAt += historyPageSize {
		page, err := s.tracker.Changelog(ctx, key, startAt, historyPageSize)
		if err != nil {
			return nil, fmt.Errorf("changelog %s: %w", key, err)
		}
		for _, h := range page.Values {
			at, ok := jira.ParseTime(h.Created)
			if !ok || !w.Contains(at) {
				continue
			}
			for _, item := range h.Items {
				if item.Field != field {
					continue
				}
				ev := domain.ChangeEvent{Kind: kind, At: at, From: item.FromString, To: item.ToString}
				if kind == domain.AssigneeChange {
					ev.From = domain.OwnerName(ev.From)
					ev.To = domain.OwnerName(ev.To)
				}
				events = append(events, ev)
			}
		}
		if len(page.Values) < historyPageSize {
			break
		}
	}
	return events, nil
}

// recentComments fetches an issue's comments and keeps those created inside
// the window. Bodies are cut to commentBodyLimit at extraction.
func (s *Service) recentComments(ctx context.Context, key string, w domain.Window) ([]domain.ChangeEvent, error) {
	var events []domain.ChangeEvent
	for startAt := 0; ; startAt += historyPageSize {
		page, err := s.tracker.Comments(ctx, key, startAt, historyPageSize)
		if err != nil {
			return nil, fmt.Errorf("comments %s: %w", key, err)
		}
		for _, c := range page.Comments {
			at, ok := jira.ParseTime(c.Created)
			if !ok || !w.Contains(at) {
				continue
			}
			events = append(events, domain.ChangeEvent{
				Kind:   domain.CommentAdded,
				At:     at,
				Author: authorName(c.Author.DisplayName),
				Text:   domain.Truncate(c.Body, commentBodyLimit),
			})
		}
		if len(page.Comments) < historyPageSize {
			break
		}
	}
	return events, nil
}

func authorName(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
