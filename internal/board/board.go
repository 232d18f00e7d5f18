// Package board computes dashboard rows from cached repository activity.
// It is pure presentation math: no I/O, no cache mutation.
package board

import (
	"sort"
	"time"

	"github.com/shuxueshuxue/gitdash/internal/github"
)

const (
	// shortWindow and longWindow are the two activity windows counted per
	// repository.
	shortWindow = 3 * 24 * time.Hour
	longWindow  = 30 * 24 * time.Hour

	// shortWindowFactor weights very recent activity in the composite score.
	shortWindowFactor = 5

	// unknownLanguage is shown when the source reports no language.
	unknownLanguage = "N/A"
)

// Row is one dashboard line for a repository.
type Row struct {
	Project      string `json:"project"`
	URL          string `json:"url"`
	Count3d      int    `json:"commit_count_3d"`
	Count30d     int    `json:"commit_count_30d"`
	Language     string `json:"language"`
	WorkingState string `json:"working_state"`
	Weight       int    `json:"weight"`
}

// CacheReader is the read-only view of the sync cache the board needs.
type CacheReader interface {
	GetChanges(id string) []github.ChangeRecord
	GetSummary(id string) string
}

// ComputeRows builds one row per repository and ranks them by composite
// weight, descending. Equal weights keep the input order (stable sort).
// Windows are inclusive of their lower bound and evaluated against asOf in
// UTC, so records carrying any zone offset compare correctly.
func ComputeRows(repos []github.RepositoryRef, cache CacheReader, asOf time.Time) []Row {
	asOf = asOf.UTC()

	rows := make([]Row, 0, len(repos))
	for _, repo := range repos {
		changes := cache.GetChanges(repo.ID)

		count3d := countInWindow(changes, asOf, shortWindow)
		count30d := countInWindow(changes, asOf, longWindow)

		language := repo.Language
		if language == "" {
			language = unknownLanguage
		}

		rows = append(rows, Row{
			Project:      repo.Name,
			URL:          repo.URL(),
			Count3d:      count3d,
			Count30d:     count30d,
			Language:     language,
			WorkingState: cache.GetSummary(repo.ID),
			Weight:       shortWindowFactor*count3d + count30d,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Weight > rows[j].Weight })
	return rows
}

// TotalWeight sums the composite weight across rows.
func TotalWeight(rows []Row) int {
	total := 0
	for _, r := range rows {
		total += r.Weight
	}
	return total
}

// countInWindow counts records whose timestamp falls within
// [asOf-window, asOf], both bounds inclusive.
func countInWindow(changes []github.ChangeRecord, asOf time.Time, window time.Duration) int {
	cutoff := asOf.Add(-window)
	count := 0
	for _, c := range changes {
		ts := c.Timestamp.UTC()
		if !ts.Before(cutoff) && !ts.After(asOf) {
			count++
		}
	}
	return count
}
