package services

import (
	"fmt"
	"strings"

	"github.com/marswin2024/jira-confluence-digest/internal/domain"
)

// Classification is one of the tracker-side change categories a digest run
// queries for.
type Classification string

const (
	ClassNew      Classification = "new"
	ClassStatus   Classification = "status"
	ClassAssignee Classification = "assignee"
	ClassComment  Classification = "comment"
)

// queryTimeLayout is the timestamp form both JQL and CQL accept for time
// predicates. Always rendered in UTC so the same window yields the same
// predicate everywhere.
const queryTimeLayout = "2006-01-02 15:04"

// TrackerQuery builds the JQL predicate for one classification. Pure: same
// window and projects always produce the identical string. Only the window
// lower bound appears in the predicate; JQL's implicit upper bound is "now",
// so the aggregator clamps anything past window.End.
func TrackerQuery(class Classification, w domain.Window, projects []string) string {
	since := w.Start.UTC().Format(queryTimeLayout)
	var clause, order string
	switch class {
	case ClassNew:
		clause = fmt.Sprintf("created >= %q", since)
		order = "created"
	case ClassStatus:
		clause = fmt.Sprintf("status changed AFTER %q", since)
		order = "updated"
	case ClassAssignee:
		clause = fmt.Sprintf("assignee changed AFTER %q", since)
		order = "updated"
	default: // ClassComment: comments have no JQL predicate, over-fetch by updated
		clause = fmt.Sprintf("updated >= %q", since)
		order = "updated"
	}
	if scope := projectFilter(projects); scope != "" {
		clause = scope + " AND " + clause
	}
	return clause + " ORDER BY " + order + " DESC"
}

func projectFilter(projects []string) string {
	if len(projects) == 0 {
		return ""
	}
	return "project in (" + strings.Join(projects, ",") + ")"
}

// WikiQuery builds the CQL predicate for updated-page discovery. Same purity
// and lower-bound-only contract as TrackerQuery.
func WikiQuery(w domain.Window, spaces []string) string {
	cql := fmt.Sprintf("lastModified >= %q", w.Start.UTC().Format(queryTimeLayout))
	if len(spaces) > 0 {
		parts := make([]string, 0, len(spaces))
		for _, sp := range spaces {
			parts = append(parts, fmt.Sprintf("space = %q", sp))
		}
		cql = "(" + strings.Join(parts, " OR ") + ") AND " + cql
	}
	return cql + " ORDER BY lastModified DESC"
}
