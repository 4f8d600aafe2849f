package confluence

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

// Client wraps the Confluence Cloud REST API for CQL search and page detail
// lookups. Single attempt per call, same policy as the Jira client.
type Client struct {
	baseURL string
	user    string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.ConfluenceBaseURL, "/"),
		user:    cfg.ConfluenceUsername,
		token:   cfg.ConfluenceAPIToken,
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		log:     log,
	}
}

type SearchResult struct {
	Results []SearchItem `json:"results"`
	Size    int          `json:"size"`
}

type SearchItem struct {
	Content Content `json:"content"`
}

type Content struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type Page struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Space   Space   `json:"space"`
	Version Version `json:"version"`
	History History `json:"history"`
	Body    Body    `json:"body"`
}

type Space struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

type Version struct {
	Number int    `json:"number"`
	When   string `json:"when"`
	By     User   `json:"by"`
}

type User struct {
	DisplayName string `json:"displayName"`
}

type History struct {
	LastUpdated Updated `json:"lastUpdated"`
}

type Updated struct {
	When string `json:"when"`
}

type Body struct {
	View View `json:"view"`
}

type View struct {
	Value string `json:"value"`
}

// SearchCQL runs a CQL query against one offset page.
func (c *Client) SearchCQL(ctx context.Context, cql string, start, limit int) (SearchResult, error) {
	var out SearchResult
	if cql == "" {
		return out, errors.New("confluence: empty cql")
	}
	q := url.Values{}
	q.Set("cql", cql)
	q.Set("start", fmt.Sprint(start))
	q.Set("limit", fmt.Sprint(limit))
	err := c.getJSON(ctx, c.apiURL("/rest/api/search", q), &out)
	return out, err
}

// Page fetches a page with version, space, last-updated history, and the
// rendered body for excerpting.
func (c *Client) Page(ctx context.Context, id string) (Page, error) {
	var out Page
	if id == "" {
		return out, errors.New("confluence: empty page id")
	}
	q := url.Values{}
	q.Set("expand", "version,space,history.lastUpdated,body.view")
	err := c.getJSON(ctx, c.apiURL("/rest/api/content/"+url.PathEscape(id), q), &out)
	return out, err
}

// PageURL returns the human-facing link for a page id.
func (c *Client) PageURL(id string) string {
	return c.baseURL + "/pages/viewpage.action?pageId=" + url.QueryEscape(id)
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
		return errors.New("confluence: empty baseURL")
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
		return fmt.Errorf("confluence api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ParseTime parses Confluence's timestamp formats.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		"2006-01-02T15:04:05.000Z07:00",
		time.RFC3339,
		"2006-01-02T15:04:05.000-0700",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
