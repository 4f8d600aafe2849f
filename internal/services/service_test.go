package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/marswin2024/jira-confluence-digest/internal/adapters/confluence"
	"github.com/marswin2024/jira-confluence-digest/internal/adapters/jira"
	"github.com/marswin2024/jira-confluence-digest/internal/adapters/smtp"
	"github.com/marswin2024/jira-confluence-digest/internal/config"
	"github.com/marswin2024/jira-confluence-digest/internal/domain"
)

var testNow = time.Date(2025, 6, 10, 7, 0, 0, 0, time.UTC)

func jiraTS(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000-0700")
}

func confluenceTS(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

type fakeTracker struct {
	search    func(jql string, startAt, max int) (jira.SearchResult, error)
	changelog func(key string, startAt, max int) (jira.ChangelogPage, error)
	comments  func(key string, startAt, max int) (jira.CommentPage, error)
}

func (f *fakeTracker) Search(_ context.Context, jql string, startAt, max int) (jira.SearchResult, error) {
	if f.search == nil {
		return jira.SearchResult{}, nil
	}
	return f.search(jql, startAt, max)
}

func (f *fakeTracker) Changelog(_ context.Context, key string, startAt, max int) (jira.ChangelogPage, error) {
	if f.changelog == nil {
		return jira.ChangelogPage{}, nil
	}
	return f.changelog(key, startAt, max)
}

func (f *fakeTracker) Comments(_ context.Context, key string, startAt, max int) (jira.CommentPage, error) {
	if f.comments == nil {
		return jira.CommentPage{}, nil
	}
	return f.comments(key, startAt, max)
}

func (f *fakeTracker) BrowseURL(key string) string { return "https://jira.test/browse/" + key }

type fakeWiki struct {
	searchCQL func(cql string, start, limit int) (confluence.SearchResult, error)
	page      func(id string) (confluence.Page, error)
}

func (f *fakeWiki) SearchCQL(_ context.Context, cql string, start, limit int) (confluence.SearchResult, error) {
	if f.searchCQL == nil {
		return confluence.SearchResult{}, nil
	}
	return f.searchCQL(cql, start, limit)
}

func (f *fakeWiki) Page(_ context.Context, id string) (confluence.Page, error) {
	if f.page == nil {
		return confluence.Page{}, nil
	}
	return f.page(id)
}

func (f *fakeWiki) PageURL(id string) string { return "https://wiki.test/pages/" + id }

type fakeRenderer struct{ err error }

func (f *fakeRenderer) Render(domain.DigestReport) (string, string, error) {
	return "<html>digest</html>", "digest", f.err
}

type fakeDeliverer struct {
	err  error
	sent []smtp.Message
}

func (f *fakeDeliverer) Deliver(_ context.Context, msg smtp.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeRecorder struct {
	started  int
	finished bool
	success  bool
	updates  int
	errMsg   string
}

func (f *fakeRecorder) StartJobRun(context.Context, string) (int64, error) {
	f.started++
	return 7, nil
}

func (f *fakeRecorder) FinishJobRun(_ context.Context, id int64, updates int, success bool, errMsg string) error {
	f.finished = true
	f.updates = updates
	f.success = success
	f.errMsg = errMsg
	return nil
}

func newTestService(tr TrackerAPI, wk WikiAPI) *Service {
	cfg := config.Config{PageSize: 50, RecipientEmail: "team@example.com"}
	s := New(cfg, zerolog.Nop(), tr, wk, &fakeRenderer{}, &fakeDeliverer{}, nil)
	s.now = func() time.Time { return testNow }
	return s
}

func newIssue(key, summary string, created time.Time) jira.Issue {
	return jira.Issue{
		Key: key,
		Fields: jira.Fields{
			Summary:  summary,
			Created:  jiraTS(created),
			Status:   &jira.Named{Name: "To Do"},
			Project:  &jira.Project{Key: "PROJ", Name: "Project X"},
			Assignee: &jira.User{DisplayName: "Jane Doe"},
		},
	}
}

// Scenario: one ticket created inside the window, no other activity.
func TestCollectNewTicketOnly(t *testing.T) {
	tr := &fakeTracker{
		search: func(jql string, startAt, max int) (jira.SearchResult, error) {
			if strings.Contains(jql, "created >=") {
				return jira.SearchResult{Issues: []jira.Issue{newIssue("PROJ-1", "Add login", testNow.Add(-3 * time.Hour))}}, nil
			}
			return jira.SearchResult{}, nil
		},
	}
	report := newTestService(tr, &fakeWiki{}).Collect(context.Background(), zerolog.Nop())

	if len(report.NewTickets) != 1 || report.NewTickets[0].Key != "PROJ-1" {
		t.Fatalf("newTickets = %+v", report.NewTickets)
	}
	if report.NewTickets[0].URL != "https://jira.test/browse/PROJ-1" {
		t.Errorf("url = %q", report.NewTickets[0].URL)
	}
	if n := len(report.StatusChanges) + len(report.AssignmentChanges) + len(report.NewComments) + len(report.UpdatedPages); n != 0 {
		t.Fatalf("expected all other sections empty, total %d", n)
	}
}

// Scenario: wiki search pages of 2 then 1 yield exactly 3 pages.
func TestCollectWikiPagination(t *testing.T) {
	all := []confluence.SearchItem{
		{Content: confluence.Content{ID: "11"}},
		{Content: confluence.Content{ID: "12"}},
		{Content: confluence.Content{ID: "13"}},
	}
	var starts []int
	wk := &fakeWiki{
		searchCQL: func(cql string, start, limit int) (confluence.SearchResult, error) {
			starts = append(starts, start)
			end := start + limit
			if end > len(all) {
				end = len(all)
			}
			if start >= len(all) {
				return confluence.SearchResult{}, nil
			}
			return confluence.SearchResult{Results: all[start:end]}, nil
		},
		page: func(id string) (confluence.Page, error) {
			return confluence.Page{
				ID:    id,
				Title: "Page " + id,
				Space: confluence.Space{Key: "ENG", Name: "Engineering"},
				Version: confluence.Version{
					Number: 2,
					When:   confluenceTS(testNow.Add(-4 * time.Hour)),
					By:     confluence.User{DisplayName: "Carol"},
				},
			}, nil
		},
	}
	s := newTestService(&fakeTracker{}, wk)
	s.cfg.PageSize = 2
	report := s.Collect(context.Background(), zerolog.Nop())

	if len(report.UpdatedPages) != 3 {
		t.Fatalf("want 3 pages, got %d", len(report.UpdatedPages))
	}
	if len(starts) != 2 || starts[0] != 0 || starts[1] != 2 {
		t.Fatalf("search offsets = %v", starts)
	}
	if report.UpdatedPages[0].UpdatedBy != "Carol" || report.UpdatedPages[0].SpaceName != "Engineering" {
		t.Errorf("page summary = %+v", report.UpdatedPages[0])
	}
}

// Scenario: history entries at -25h and -2h; only the -2h one survives.
func TestCollectStatusChangeWindowFilter(t *testing.T) {
	tr := &fakeTracker{
		search: func(jql string, startAt, max int) (jira.SearchResult, error) {
			if strings.Contains(jql, "status changed") {
				return jira.SearchResult{Issues: []jira.Issue{newIssue("PROJ-9", "Fix header", testNow.Add(-48 * time.Hour))}}, nil
			}
			return jira.SearchResult{}, nil
		},
		changelog: func(key string, startAt, max int) (jira.ChangelogPage, error) {
			return jira.ChangelogPage{Values: []jira.History{
				{Created: jiraTS(testNow.Add(-25 * time.Hour)), Items: []jira.HistoryItem{
					{Field: "status", FromString: "To Do", ToString: "In Progress"},
				}},
				{Created: jiraTS(testNow.Add(-2 * time.Hour)), Items: []jira.HistoryItem{
					{Field: "status", FromString: "In Progress", ToString: "Done"},
				}},
			}}, nil
		},
	}
	report := newTestService(tr, &fakeWiki{}).Collect(context.Background(), zerolog.Nop())

	if len(report.StatusChanges) != 1 {
		t.Fatalf("statusChanges = %+v", report.StatusChanges)
	}
	changes := report.StatusChanges[0].Changes
	if len(changes) != 1 {
		t.Fatalf("want 1 change inside window, got %d", len(changes))
	}
	if changes[0].From != "In Progress" || changes[0].To != "Done" {
		t.Errorf("kept wrong entry: %+v", changes[0])
	}
}

// A ticket whose history yields no in-window event is dropped from the
// classification entirely.
func TestCollectDropsTicketsWithoutWindowEvents(t *testing.T) {
	tr := &fakeTracker{
		search: func(jql string, startAt, max int) (jira.SearchResult, error) {
			if strings.Contains(jql, "assignee changed") {
				return jira.SearchResult{Issues: []jira.Issue{newIssue("PROJ-5", "Old move", testNow.Add(-72 * time.Hour))}}, nil
			}
			return jira.SearchResult{}, nil
		},
		changelog: func(key string, startAt, max int) (jira.ChangelogPage, error) {
			return jira.ChangelogPage{Values: []jira.History{
				{Created: jiraTS(testNow.Add(-30 * time.Hour)), Items: []jira.HistoryItem{
					{Field: "assignee", FromString: "Alice", ToString: "Bob"},
				}},
			}}, nil
		},
	}
	report := newTestService(tr, &fakeWiki{}).Collect(context.Background(), zerolog.Nop())
	if len(report.AssignmentChanges) != 0 {
		t.Fatalf("assignmentChanges = %+v", report.AssignmentChanges)
	}
}

// One entity's follow-up failure never removes its siblings.
func TestCollectIsolatesPerEntityFailures(t *testing.T) {
	tr := &fakeTracker{
		search: func(jql string, startAt, max int) (jira.SearchResult, error) {
			if strings.Contains(jql, "updated >=") {
				return jira.SearchResult{Issues: []jira.Issue{
					newIssue("PROJ-1", "Broken one", testNow.Add(-5 * time.Hour)),
					newIssue("PROJ-2", "Healthy one", testNow.Add(-5 * time.Hour)),
				}}, nil
			}
			return jira.SearchResult{}, nil
		},
		comments: func(key string, startAt, max int) (jira.CommentPage, error) {
			if key == "PROJ-1" {
				return jira.CommentPage{}, errors.New("comment endpoint 500")
			}
			return jira.CommentPage{Comments: []jira.Comment{{
				Author:  jira.User{DisplayName: "Bob"},
				Body:    "Retested, all good",
				Created: jiraTS(testNow.Add(-time.Hour)),
			}}}, nil
		},
	}
	report := newTestService(tr, &fakeWiki{}).Collect(context.Background(), zerolog.Nop())

	if len(report.NewComments) != 1 || report.NewComments[0].Key != "PROJ-2" {
		t.Fatalf("newComments = %+v", report.NewComments)
	}
}

// Every sub-query failing still yields a valid, all-empty report.
func TestCollectAllQueriesFailing(t *testing.T) {
	tr := &fakeTracker{
		search: func(string, int, int) (jira.SearchResult, error) {
			return jira.SearchResult{}, errors.New("jira down")
		},
	}
	wk := &fakeWiki{
		searchCQL: func(string, int, int) (confluence.SearchResult, error) {
			return confluence.SearchResult{}, errors.New("confluence down")
		},
	}
	report := newTestService(tr, wk).Collect(context.Background(), zerolog.Nop())

	if report.TotalUpdates() != 0 {
		t.Fatalf("want empty report, got %d updates", report.TotalUpdates())
	}
	if !report.GeneratedAt.Equal(testNow) {
		t.Fatalf("generatedAt = %v", report.GeneratedAt)
	}
}

// Defensive clamp: results stamped past window.End are discarded.
func TestCollectClampsFutureTimestamps(t *testing.T) {
	tr := &fakeTracker{
		search: func(jql string, startAt, max int) (jira.SearchResult, error) {
			if strings.Contains(jql, "created >=") {
				return jira.SearchResult{Issues: []jira.Issue{
					newIssue("PROJ-1", "From the future", testNow.Add(2 * time.Hour)),
					newIssue("PROJ-2", "In window", testNow.Add(-2 * time.Hour)),
				}}, nil
			}
			return jira.SearchResult{}, nil
		},
	}
	report := newTestService(tr, &fakeWiki{}).Collect(context.Background(), zerolog.Nop())
	if len(report.NewTickets) != 1 || report.NewTickets[0].Key != "PROJ-2" {
		t.Fatalf("newTickets = %+v", report.NewTickets)
	}
}

func TestRunDailyDigestRecordsSuccess(t *testing.T) {
	tr := &fakeTracker{
		search: func(jql string, startAt, max int) (jira.SearchResult, error) {
			if strings.Contains(jql, "created >=") {
				return jira.SearchResult{Issues: []jira.Issue{newIssue("PROJ-1", "New", testNow.Add(-time.Hour))}}, nil
			}
			return jira.SearchResult{}, nil
		},
	}
	rec := &fakeRecorder{}
	del := &fakeDeliverer{}
	s := newTestService(tr, &fakeWiki{})
	s.runs = rec
	s.deliver = del

	if err := s.RunDailyDigest(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(del.sent) != 1 {
		t.Fatalf("want 1 delivery, got %d", len(del.sent))
	}
	if del.sent[0].To != "team@example.com" || del.sent[0].Subject == "" {
		t.Errorf("message = %+v", del.sent[0])
	}
	if rec.started != 1 || !rec.finished || !rec.success || rec.updates != 1 {
		t.Errorf("recorder = %+v", rec)
	}
}

func TestRunDailyDigestPropagatesDeliveryFailure(t *testing.T) {
	rec := &fakeRecorder{}
	s := newTestService(&fakeTracker{}, &fakeWiki{})
	s.runs = rec
	s.deliver = &fakeDeliverer{err: errors.New("smtp: giving up after 3 attempts")}

	err := s.RunDailyDigest(context.Background())
	if err == nil {
		t.Fatal("expected delivery error")
	}
	if !rec.finished || rec.success {
		t.Errorf("recorder = %+v", rec)
	}
	if rec.errMsg == "" {
		t.Error("failure reason not recorded")
	}
}

func TestRunDailyDigestWithoutRecorder(t *testing.T) {
	s := newTestService(&fakeTracker{}, &fakeWiki{})
	if err := s.RunDailyDigest(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunDailyDigestRenderFailure(t *testing.T) {
	del := &fakeDeliverer{}
	s := newTestService(&fakeTracker{}, &fakeWiki{})
	s.render = &fakeRenderer{err: errors.New("bad template")}
	s.deliver = del

	if err := s.RunDailyDigest(context.Background()); err == nil {
		t.Fatal("expected render error")
	}
	if len(del.sent) != 0 {
		t.Fatal("delivery attempted after render failure")
	}
}
