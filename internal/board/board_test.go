package board

import (
	"testing"
	"time"

	"github.com/shuxueshuxue/gitdash/internal/github"
)

// fakeCache returns scripted changes and summaries per repository id.
type fakeCache struct {
	changes   map[string][]github.ChangeRecord
	summaries map[string]string
}

func (f *fakeCache) GetChanges(id string) []github.ChangeRecord {
	return f.changes[id]
}

func (f *fakeCache) GetSummary(id string) string {
	if s, ok := f.summaries[id]; ok {
		return s
	}
	return "Not synced yet"
}

func repoRef(id, name, language string) github.RepositoryRef {
	return github.RepositoryRef{ID: id, Name: name, Owner: "octocat", Language: language}
}

func commitsAt(times ...time.Time) []github.ChangeRecord {
	records := make([]github.ChangeRecord, len(times))
	for i, ts := range times {
		records[i] = github.ChangeRecord{ID: "sha", Message: "m", Timestamp: ts}
	}
	return records
}

func TestComputeRowsWeight(t *testing.T) {
	asOf := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	// 4 commits within 3 days, 6 more within 30 days: weight 5*4 + 10 = 30.
	var times []time.Time
	for i := 0; i < 4; i++ {
		times = append(times, asOf.Add(-time.Duration(i+1)*12*time.Hour))
	}
	for i := 0; i < 6; i++ {
		times = append(times, asOf.Add(-time.Duration(i+5)*24*time.Hour))
	}

	cache := &fakeCache{
		changes:   map[string][]github.ChangeRecord{"r1": commitsAt(times...)},
		summaries: map[string]string{"r1": "busy"},
	}

	rows := ComputeRows([]github.RepositoryRef{repoRef("r1", "proj", "Go")}, cache, asOf)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}

	row := rows[0]
	if row.Count3d != 4 {
		t.Errorf("expected 4 commits in 3d window, got %d", row.Count3d)
	}
	if row.Count30d != 10 {
		t.Errorf("expected 10 commits in 30d window, got %d", row.Count30d)
	}
	if row.Weight != 30 {
		t.Errorf("expected weight 30, got %d", row.Weight)
	}
	if row.Project != "proj" || row.URL != "https://github.com/octocat/proj" {
		t.Errorf("unexpected identity fields: %+v", row)
	}
	if row.WorkingState != "busy" {
		t.Errorf("expected summary in working state, got %q", row.WorkingState)
	}
}

func TestComputeRowsZeroActivity(t *testing.T) {
	asOf := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	cache := &fakeCache{}

	rows := ComputeRows([]github.RepositoryRef{repoRef("r1", "quiet", "Go")}, cache, asOf)
	row := rows[0]
	if row.Count3d != 0 || row.Count30d != 0 || row.Weight != 0 {
		t.Errorf("expected zero counts and weight, got %+v", row)
	}
	if row.WorkingState != "Not synced yet" {
		t.Errorf("expected sentinel working state, got %q", row.WorkingState)
	}
}

func TestComputeRowsInclusiveBoundaries(t *testing.T) {
	asOf := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	cache := &fakeCache{changes: map[string][]github.ChangeRecord{
		"r1": commitsAt(
			asOf,                                    // exactly at asOf: counted
			asOf.Add(-3*24*time.Hour),               // exactly at 3d cutoff: counted in both
			asOf.Add(-3*24*time.Hour-time.Second),   // just past 3d: 30d only
			asOf.Add(-30*24*time.Hour),              // exactly at 30d cutoff: counted
			asOf.Add(-30*24*time.Hour-time.Second),  // past 30d: not counted
			asOf.Add(time.Second),                   // in the future: not counted
		),
	}}

	rows := ComputeRows([]github.RepositoryRef{repoRef("r1", "edge", "Go")}, cache, asOf)
	row := rows[0]
	if row.Count3d != 2 {
		t.Errorf("expected 2 in 3d window, got %d", row.Count3d)
	}
	if row.Count30d != 4 {
		t.Errorf("expected 4 in 30d window, got %d", row.Count30d)
	}
}

func TestComputeRowsZoneNormalization(t *testing.T) {
	asOf := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	zone := time.FixedZone("plus5", 5*3600)

	// Same instant as asOf-1h, expressed with an offset.
	cache := &fakeCache{changes: map[string][]github.ChangeRecord{
		"r1": commitsAt(time.Date(2026, 8, 20, 16, 0, 0, 0, zone)),
	}}

	rows := ComputeRows([]github.RepositoryRef{repoRef("r1", "tz", "Go")}, cache, asOf)
	if rows[0].Count3d != 1 {
		t.Errorf("expected zoned timestamp to count, got %d", rows[0].Count3d)
	}
}

func TestComputeRowsSortStable(t *testing.T) {
	asOf := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	cache := &fakeCache{changes: map[string][]github.ChangeRecord{
		"busy": commitsAt(asOf.Add(-time.Hour), asOf.Add(-2*time.Hour)),
		"a":    commitsAt(asOf.Add(-time.Hour)),
		"b":    commitsAt(asOf.Add(-time.Hour)),
	}}

	repos := []github.RepositoryRef{
		repoRef("a", "alpha", "Go"),
		repoRef("busy", "beta", "Go"),
		repoRef("b", "gamma", "Go"),
	}

	rows := ComputeRows(repos, cache, asOf)
	if rows[0].Project != "beta" {
		t.Errorf("expected highest weight first, got %q", rows[0].Project)
	}
	// alpha and gamma tie; input order decides.
	if rows[1].Project != "alpha" || rows[2].Project != "gamma" {
		t.Errorf("expected stable order for ties, got %q then %q", rows[1].Project, rows[2].Project)
	}
}

func TestComputeRowsUnknownLanguage(t *testing.T) {
	asOf := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	rows := ComputeRows([]github.RepositoryRef{repoRef("r1", "nolang", "")}, &fakeCache{}, asOf)
	if rows[0].Language != "N/A" {
		t.Errorf("expected N/A for missing language, got %q", rows[0].Language)
	}
}

func TestTotalWeight(t *testing.T) {
	rows := []Row{{Weight: 30}, {Weight: 12}, {Weight: 0}}
	if got := TotalWeight(rows); got != 42 {
		t.Errorf("expected total 42, got %d", got)
	}
}
