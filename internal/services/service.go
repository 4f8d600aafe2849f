package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marswin2024/jira-confluence-digest/internal/adapters/confluence"
	"github.com/marswin2024/jira-confluence-digest/internal/adapters/jira"
	"github.com/marswin2024/jira-confluence-digest/internal/adapters/smtp"
	"github.com/marswin2024/jira-confluence-digest/internal/config"
	"github.com/marswin2024/jira-confluence-digest/internal/domain"
)

// TrackerAPI is the slice of the Jira client the aggregator consumes.
type TrackerAPI interface {
	Search(ctx context.Context, jql string, startAt, max int) (jira.SearchResult, error)
	Changelog(ctx context.Context, key string, startAt, max int) (jira.ChangelogPage, error)
	Comments(ctx context.Context, key string, startAt, max int) (jira.CommentPage, error)
	BrowseURL(key string) string
}

// WikiAPI is the slice of the Confluence client the aggregator consumes.
type WikiAPI interface {
	SearchCQL(ctx context.Context, cql string, start, limit int) (confluence.SearchResult, error)
	Page(ctx context.Context, id string) (confluence.Page, error)
	PageURL(id string) string
}

// Renderer turns a report into the HTML and plain-text email bodies.
type Renderer interface {
	Render(r domain.DigestReport) (html, text string, err error)
}

// Deliverer sends the rendered report through the outbound channel.
type Deliverer interface {
	Deliver(ctx context.Context, msg smtp.Message) error
}

// RunRecorder persists per-run bookkeeping. Nil means no run history.
type RunRecorder interface {
	StartJobRun(ctx context.Context, runID string) (int64, error)
	FinishJobRun(ctx context.Context, id int64, updates int, success bool, errMsg string) error
}

type Service struct {
	cfg     config.Config
	log     zerolog.Logger
	tracker TrackerAPI
	wiki    WikiAPI
	render  Renderer
	deliver Deliverer
	runs    RunRecorder
	now     func() time.Time
}

func New(cfg config.Config, log zerolog.Logger, tracker TrackerAPI, wiki WikiAPI, render Renderer, deliver Deliverer, runs RunRecorder) *Service {
	return &Service{
		cfg:     cfg,
		log:     log,
		tracker: tracker,
		wiki:    wiki,
		render:  render,
		deliver: deliver,
		runs:    runs,
		now:     time.Now,
	}
}

// RunDailyDigest executes one full digest run: collect, render, deliver,
// record. Collection failures degrade and never surface here; only render
// and delivery failures are returned.
func (s *Service) RunDailyDigest(ctx context.Context) error {
	runID := uuid.NewString()
	log := s.log.With().Str("run_id", runID).Logger()
	log.Info().Msg("digest run: start")

	var jobID int64
	if s.runs != nil {
		id, err := s.runs.StartJobRun(ctx, runID)
		if err != nil {
			log.Error().Err(err).Msg("start job run failed")
		} else {
			jobID = id
		}
	}

	report := s.Collect(ctx, log)
	log.Info().
		Int("new_tickets", len(report.NewTickets)).
		Int("status_changes", len(report.StatusChanges)).
		Int("assignment_changes", len(report.AssignmentChanges)).
		Int("new_comments", len(report.NewComments)).
		Int("updated_pages", len(report.UpdatedPages)).
		Msg("digest run: collected")

	runErr := s.renderAndDeliver(ctx, log, report)

	if s.runs != nil && jobID != 0 {
		errMsg := ""
		if runErr != nil {
			errMsg = runErr.Error()
		}
		if err := s.runs.FinishJobRun(ctx, jobID, report.TotalUpdates(), runErr == nil, errMsg); err != nil {
			log.Error().Err(err).Msg("finish job run failed")
		}
	}
	if runErr != nil {
		log.Error().Err(runErr).Msg("digest run: not sent")
		return runErr
	}
	log.Info().Msg("digest run: sent")
	return nil
}

func (s *Service) renderAndDeliver(ctx context.Context, log zerolog.Logger, report domain.DigestReport) error {
	html, text, err := s.render.Render(report)
	if err != nil {
		return fmt.Errorf("render digest: %w", err)
	}
	msg := smtp.Message{
		Subject: "Daily Digest - Jira & Confluence Updates",
		To:      s.cfg.RecipientEmail,
		HTML:    html,
		Text:    text,
	}
	if err := s.deliver.Deliver(ctx, msg); err != nil {
		return fmt.Errorf("deliver digest: %w", err)
	}
	return nil
}

// Collect aggregates all five discovery queries into one report. Each
// classification degrades to empty on its own failures; an entirely failed
// run still yields a valid (all-empty) report so a "no updates" digest can
// go out.
func (s *Service) Collect(ctx context.Context, log zerolog.Logger) domain.DigestReport {
	w := domain.NewWindow(s.now())
	return domain.DigestReport{
		GeneratedAt:       w.End,
		NewTickets:        s.newTickets(ctx, log, w),
		StatusChanges:     s.changedTickets(ctx, log, w, ClassStatus, domain.StatusChange),
		AssignmentChanges: s.changedTickets(ctx, log, w, ClassAssignee, domain.AssigneeChange),
		NewComments:       s.commentedTickets(ctx, log, w),
		UpdatedPages:      s.updatedPages(ctx, log, w),
	}
}

func (s *Service) searchIssues(ctx context.Context, log zerolog.Logger, class Classification, w domain.Window) []jira.Issue {
	jql := TrackerQuery(class, w, s.cfg.JiraProjects)
	return fetchPages(log, string(class)+" search", s.cfg.PageSize, func(startAt, limit int) ([]jira.Issue, error) {
		res, err := s.tracker.Search(ctx, jql, startAt, limit)
		return res.Issues, err
	})
}

func (s *Service) newTickets(ctx context.Context, log zerolog.Logger, w domain.Window) []domain.TicketSummary {
	var out []domain.TicketSummary
	for _, is := range s.searchIssues(ctx, log, ClassNew, w) {
		t := s.ticketSummary(is)
		// clamp against clock skew: the query only has a lower bound
		if t.Created != nil && t.Created.After(w.End) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (s *Service) changedTickets(ctx context.Context, log zerolog.Logger, w domain.Window, class Classification, kind domain.ChangeKind) []domain.TicketSummary {
	var out []domain.TicketSummary
	for _, is := range s.searchIssues(ctx, log, class, w) {
		events, err := s.changeEvents(ctx, is.Key, w, kind)
		if err != nil {
			log.Error().Err(err).Str("issue", is.Key).Msg("history fetch failed, skipping issue")
			continue
		}
		if len(events) == 0 {
			continue
		}
		t := s.ticketSummary(is)
		t.Changes = events
		out = append(out, t)
	}
	return out
}

func (s *Service) commentedTickets(ctx context.Context, log zerolog.Logger, w domain.Window) []domain.TicketSummary {
	var out []domain.TicketSummary
	for _, is := range s.searchIssues(ctx, log, ClassComment, w) {
		events, err := s.recentComments(ctx, is.Key, w)
		if err != nil {
			log.Warn().Err(err).Str("issue", is.Key).Msg("comment fetch failed, skipping issue")
			continue
		}
		if len(events) == 0 {
			continue
		}
		t := s.ticketSummary(is)
		t.Changes = events
		out = append(out, t)
	}
	return out
}

func (s *Service) updatedPages(ctx context.Context, log zerolog.Logger, w domain.Window) []domain.PageSummary {
	cql := WikiQuery(w, s.cfg.ConfluenceSpaces)
	items := fetchPages(log, "wiki search", s.cfg.PageSize, func(start, limit int) ([]confluence.SearchItem, error) {
		res, err := s.wiki.SearchCQL(ctx, cql, start, limit)
		return res.Results, err
	})
	var out []domain.PageSummary
	for _, item := range items {
		id := item.Content.ID
		if id == "" {
			continue
		}
		page, err := s.wiki.Page(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("page_id", id).Msg("page detail fetch failed, skipping page")
			continue
		}
		p := domain.PageSummary{
			ID:        id,
			Title:     page.Title,
			SpaceName: page.Space.Name,
			SpaceKey:  page.Space.Key,
			URL:       s.wiki.PageURL(id),
			UpdatedBy: domain.OwnerName(page.Version.By.DisplayName),
			Version:   page.Version.Number,
			Excerpt:   htmlExcerpt(page.Body.View.Value, excerptLimit),
		}
		when := page.History.LastUpdated.When
		if when == "" {
			when = page.Version.When
		}
		if at, ok := confluence.ParseTime(when); ok {
			if at.After(w.End) {
				continue
			}
			p.UpdatedAt = &at
		}
		out = append(out, p)
	}
	return out
}

func (s *Service) ticketSummary(is jira.Issue) domain.TicketSummary {
	t := domain.TicketSummary{
		Key:      is.Key,
		Summary:  is.Fields.Summary,
		Assignee: domain.Unassigned,
		URL:      s.tracker.BrowseURL(is.Key),
	}
	if is.Fields.Status != nil {
		t.Status = is.Fields.Status.Name
	}
	if is.Fields.IssueType != nil {
		t.Type = is.Fields.IssueType.Name
	}
	if is.Fields.Assignee != nil {
		t.Assignee = domain.OwnerName(is.Fields.Assignee.DisplayName)
	}
	if is.Fields.Project != nil {
		t.Project = is.Fields.Project.Name
		t.ProjectKey = is.Fields.Project.Key
	}
	if at, ok := jira.ParseTime(is.Fields.Created); ok {
		t.Created = &at
	}
	return t
}
