package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv   string
	TZ       string
	HTTPAddr string

	// optional; empty disables run-history bookkeeping
	DBDSN string

	JiraBaseURL  string
	JiraUsername string
	JiraAPIToken string
	JiraProjects []string

	ConfluenceBaseURL  string
	ConfluenceUsername string
	ConfluenceAPIToken string
	ConfluenceSpaces   []string

	SMTPHost       string
	SMTPPort       int
	SMTPUsername   string
	SMTPPassword   string
	RecipientEmail string

	ScheduleTime string // HH:MM, local to TZ
	RunOnce      bool

	HTTPTimeout  time.Duration
	SMTPTimeout  time.Duration
	PageSize     int
	MaxAttempts  int
	RetryBackoff time.Duration
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func atoi(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func dur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func parseStrings(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func Load() Config {
	return Config{
		AppEnv:   getenv("APP_ENV", "dev"),
		TZ:       getenv("APP_TZ", "Europe/Berlin"),
		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		DBDSN: getenv("DB_DSN", ""),

		JiraBaseURL:  getenv("JIRA_URL", ""),
		JiraUsername: getenv("JIRA_USERNAME", ""),
		JiraAPIToken: getenv("JIRA_API_TOKEN", ""),
		JiraProjects: parseStrings(getenv("JIRA_PROJECTS", "")),

		ConfluenceBaseURL:  getenv("CONFLUENCE_URL", ""),
		ConfluenceUsername: getenv("CONFLUENCE_USERNAME", ""),
		ConfluenceAPIToken: getenv("CONFLUENCE_API_TOKEN", ""),
		ConfluenceSpaces:   parseStrings(getenv("CONFLUENCE_SPACES", "")),

		SMTPHost:       getenv("SMTP_HOST", ""),
		SMTPPort:       atoi("SMTP_PORT", 587),
		SMTPUsername:   getenv("SMTP_USERNAME", ""),
		SMTPPassword:   getenv("SMTP_PASSWORD", ""),
		RecipientEmail: getenv("RECIPIENT_EMAIL", ""),

		ScheduleTime: getenv("SCHEDULE_TIME", "07:00"),
		RunOnce:      strings.EqualFold(getenv("RUN_ONCE", "false"), "true"),

		HTTPTimeout:  dur("HTTP_TIMEOUT", 15*time.Second),
		SMTPTimeout:  dur("SMTP_TIMEOUT", 30*time.Second),
		PageSize:     atoi("PAGE_SIZE", 50),
		MaxAttempts:  atoi("SMTP_MAX_RETRIES", 3),
		RetryBackoff: dur("SMTP_RETRY_BACKOFF", 2*time.Second),
	}
}

// Validate reports every missing required setting at once. A non-nil error
// is fatal at startup; the run never begins with partial credentials.
func (c Config) Validate() error {
	required := []struct{ name, val string }{
		{"JIRA_URL", c.JiraBaseURL},
		{"JIRA_USERNAME", c.JiraUsername},
		{"JIRA_API_TOKEN", c.JiraAPIToken},
		{"CONFLUENCE_URL", c.ConfluenceBaseURL},
		{"CONFLUENCE_USERNAME", c.ConfluenceUsername},
		{"CONFLUENCE_API_TOKEN", c.ConfluenceAPIToken},
		{"SMTP_HOST", c.SMTPHost},
		{"SMTP_USERNAME", c.SMTPUsername},
		{"SMTP_PASSWORD", c.SMTPPassword},
		{"RECIPIENT_EMAIL", c.RecipientEmail},
	}
	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if _, _, err := ParseScheduleTime(c.ScheduleTime); err != nil {
		return fmt.Errorf("invalid SCHEDULE_TIME %q: %w", c.ScheduleTime, err)
	}
	return nil
}

// ParseScheduleTime splits an HH:MM wall-clock time into hour and minute.
func ParseScheduleTime(s string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want HH:MM")
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("bad hour %q", parts[0])
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("bad minute %q", parts[1])
	}
	return hour, minute, nil
}
