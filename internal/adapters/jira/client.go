package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/marswin2024/jira-confluence-digest/internal/config"
)

// Client is a thin typed wrapper over the Jira Cloud REST API. Each call is
// a single attempt with a bounded timeout; retry policy belongs to the
// caller, and the discovery phase deliberately has none.
type Client struct {
	baseURL string
	user    string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.JiraBaseURL, "/"),
		user:    cfg.JiraUsername,
		token:   cfg.JiraAPIToken,
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		log:     log,
	}
}

type SearchResult struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

type Issue struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields Fields `json:"fields"`
}

type Fields struct {
	Summary   string   `json:"summary"`
	Created   string   `json:"created"`
	Updated   string   `json:"updated"`
	Status    *Named   `json:"status"`
	IssueType *Named   `json:"issuetype"`
	Assignee  *User    `json:"assignee"`
	Project   *Project `json:"project"`
}

type Named struct {
	Name string `json:"name"`
}

type User struct {
	DisplayName string `json:"displayName"`
}

type Project struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

type ChangelogPage struct {
	StartAt    int       `json:"startAt"`
	MaxResults int       `json:"maxResults"`
	Total      int       `json:"total"`
	Values     []History `json:"values"`
}

type History struct {
	Created string        `json:"created"`
	Items   []HistoryItem `json:"items"`
}

type HistoryItem struct {
	Field      string `json:"field"`
	FromString string `json:"fromString"`
	ToString   string `json:"toString"`
}

type CommentPage struct {
	StartAt    int       `json:"startAt"`
	MaxResults int       `json:"maxResults"`
	Total      int       `json:"total"`
	Comments   []Comment `json:"comments"`
}

type Comment struct {
	Author  User   `json:"author"`
	Body    string `json:"body"`
	Created string `json:"created"`
}

// Search runs a JQL query against one offset page.
func (c *Client) Search(ctx context.Context, jql string, startAt, max int) (SearchResult, error) {
	var out SearchResult
	if jql == "" {
		return out, errors.New("jira: empty jql")
	}
	q := url.Values{}
	q.Set("jql", jql)
	q.Set("startAt", fmt.Sprint(startAt))
	q.Set("maxResults", fmt.Sprint(max))
	q.Set("fields", "summary,status,assignee,created,updated,project,issuetype")
	err := c.getJSON(ctx, c.apiURL("/rest/api/2/search", q), &out)
	return out, err
}

// Changelog fetches one page of an issue's change history.
func (c *Client) Changelog(ctx context.Context, key string, startAt, max int) (ChangelogPage, error) {
	var out ChangelogPage
	if key == "" {
		return out, errors.New("jira: empty issue key")
	}
	q := url.Values{}
	q.Set("startAt", fmt.Sprint(startAt))
	q.Set("maxResults", fmt.Sprint(max))
	err := c.getJSON(ctx, c.apiURL("/rest/api/2/issue/"+url.PathEscape(key)+"/changelog", q), &out)
	return out, err
}

// Comments fetches one page of an issue's comments.
func (c *Client) Comments(ctx context.Context, key string, startAt, max int) (CommentPage, error) {
	var out CommentPage
	if key == "" {
		return out, errors.New("jira: empty issue key")
	}
	q := url.Values{}
	q.Set("startAt", fmt.Sprint(startAt))
	q.Set("maxResults", fmt.Sprint(max))
	err := c.getJSON(ctx, c.apiURL("/rest/api/2/issue/"+url.PathEscape(key)+"/comment", q), &out)
	return out, err
}

// BrowseURL returns the human-facing link for an issue key.
func (c *Client) BrowseURL(key string) string {
	return c.baseURL + "/browse/" + url.PathEscape(key)
}

func (c *Client) apiURL(path string, q url.Values) string {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	if c.baseURL == "" {
		return errors.New("jira: empty baseURL")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.user, c.token)
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("jira api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ParseTime parses Jira's timestamp formats. The REST API emits
// "2006-01-02T15:04:05.000-0700"; dates and RFC3339 appear in a few fields.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		"2006-01-02T15:04:05.000-0700",
		time.RFC3339,
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
