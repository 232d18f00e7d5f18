package engine

import (
	"strings"
	"time"

	"github.com/shuxueshuxue/gitdash/internal/github"
)

// SummaryStatus tags the outcome of the summarization step for a cache entry.
// Logic branches on the tag; the display string is derived, never parsed.
type SummaryStatus string

const (
	// SummaryGenerated means the summarizer produced a real description.
	SummaryGenerated SummaryStatus = "generated"

	// SummaryNoActivity means the fetch succeeded but returned no changes;
	// the summarizer was never invoked.
	SummaryNoActivity SummaryStatus = "no_activity"

	// SummaryFetchFailed means the activity source fetch failed; the entry
	// is a degraded placeholder gating retries until newer activity shows up.
	SummaryFetchFailed SummaryStatus = "fetch_failed"

	// SummaryFailed means changes were fetched but summarization failed;
	// the fetched data is still cached and counted.
	SummaryFailed SummaryStatus = "failed"
)

// Fixed sentinel strings shown where no real summary exists. They are
// distinguishable from any generated summary and from each other.
const (
	NotSyncedText  = "Not synced yet"
	NoSummaryText  = "No summary available"
	NoActivityText = "No recent activity"
)

// Summary is the tagged summarization result stored in a cache entry.
// Text holds the generated description for SummaryGenerated and a short
// failure reason for the failure statuses.
type Summary struct {
	Status SummaryStatus
	Text   string
}

// Display renders the summary for presentation. Consumers always get a
// non-empty string: a real summary, a sentinel, or a degraded status line.
func (s Summary) Display() string {
	switch s.Status {
	case SummaryGenerated:
		return s.Text
	case SummaryNoActivity:
		return NoActivityText
	case SummaryFetchFailed:
		return "Error: " + s.Text
	case SummaryFailed:
		return "Summary generation failed: " + s.Text
	default:
		return NoSummaryText
	}
}

// Failed reports whether the summary records a failure of either the fetch
// or the summarization step.
func (s Summary) Failed() bool {
	return s.Status == SummaryFetchFailed || s.Status == SummaryFailed
}

// CacheEntry is one repository's cached sync state. Entries are replaced
// wholesale on every refetch, never merged.
type CacheEntry struct {
	RepoID string

	// Changes is the last fetched batch, newest first, bounded by the
	// source's page size.
	Changes []github.ChangeRecord

	// FetchedAt is the engine's own clock reading when the last fetch
	// completed. It is non-decreasing across syncs of the same repository.
	FetchedAt time.Time

	Summary      Summary
	SummarizedAt time.Time
}

// NormalizeID returns the canonical textual form of a repository identifier.
// Cache keys survive persist/reload cycles as strings, so every lookup and
// store goes through this.
func NormalizeID(id string) string {
	return strings.TrimSpace(id)
}
