package domain

import (
	"strings"
	"time"
)

// Unassigned is the display sentinel for missing owner fields. It is a
// rendering convention, not a domain null: once a record is constructed no
// owner field is ever empty.
const Unassigned = "Unassigned"

// Window is the trailing time range scoping a single digest run.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow returns the 24h window ending at now.
func NewWindow(now time.Time) Window {
	return Window{Start: now.Add(-24 * time.Hour), End: now}
}

// Contains reports whether t falls inside the window. Both bounds are
// inclusive.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

type ChangeKind string

const (
	StatusChange   ChangeKind = "status"
	AssigneeChange ChangeKind = "assignee"
	CommentAdded   ChangeKind = "comment"
)

// ChangeEvent is one window-relevant entry extracted from an entity's
// change history or comment stream.
type ChangeEvent struct {
	Kind   ChangeKind
	At     time.Time
	From   string
	To     string
	Author string
	Text   string
}

type Source string

const (
	SourceJira       Source = "jira"
	SourceConfluence Source = "confluence"
)

// EntityRef is the minimal handle discovery hands to the detail/history
// phase.
type EntityRef struct {
	Source Source
	ID     string
	Key    string
}

// TicketSummary is a display-ready Jira issue with the window's change
// events attached.
type TicketSummary struct {
	Key        string
	Summary    string
	Status     string
	Assignee   string
	Type       string
	Project    string
	ProjectKey string
	URL        string
	Created    *time.Time
	Changes    []ChangeEvent
}

// PageSummary is a display-ready Confluence page.
type PageSummary struct {
	ID        string
	Title     string
	SpaceName string
	SpaceKey  string
	URL       string
	UpdatedBy string
	UpdatedAt *time.Time
	Version   int
	Excerpt   string
}

// DigestReport is the aggregate handed to the renderer. Built once per run,
// never stored.
type DigestReport struct {
	GeneratedAt       time.Time
	NewTickets        []TicketSummary
	StatusChanges     []TicketSummary
	AssignmentChanges []TicketSummary
	NewComments       []TicketSummary
	UpdatedPages      []PageSummary
}

// TotalUpdates counts entries across every section.
func (r DigestReport) TotalUpdates() int {
	return len(r.NewTickets) + len(r.StatusChanges) + len(r.AssignmentChanges) +
		len(r.NewComments) + len(r.UpdatedPages)
}

// OwnerName normalizes an owner/assignee field. Empty or whitespace-only
// values become the Unassigned sentinel. Applied once, at record
// construction.
func OwnerName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return Unassigned
	}
	return s
}

// Truncate cuts s to at most max runes. Applied once at extraction time;
// callers never re-truncate.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= max {
		return s
	}
	return string(rs[:max])
}
