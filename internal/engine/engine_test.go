package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shuxueshuxue/gitdash/internal/github"
	"github.com/shuxueshuxue/gitdash/internal/store"
)

// fakeSource is a scriptable ActivitySource that counts calls.
type fakeSource struct {
	calls   atomic.Int64
	records []github.ChangeRecord
	err     error
}

func (f *fakeSource) ListRecent(ctx context.Context, owner, name string, since time.Time, branchHint string) ([]github.ChangeRecord, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]github.ChangeRecord, len(f.records))
	copy(out, f.records)
	return out, nil
}

// fakeSummarizer records the messages it was given.
type fakeSummarizer struct {
	calls    atomic.Int64
	messages []string
	text     string
	err      error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, repoName string, messages []string) (string, error) {
	f.calls.Add(1)
	f.messages = messages
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testRepo(id string, lastActivity time.Time) github.RepositoryRef {
	return github.RepositoryRef{
		ID:             id,
		Name:           "proj-" + id,
		Owner:          "octocat",
		Language:       "Go",
		LastActivityAt: lastActivity,
	}
}

func changesAt(times ...time.Time) []github.ChangeRecord {
	records := make([]github.ChangeRecord, len(times))
	for i, ts := range times {
		records[i] = github.ChangeRecord{
			ID:        fmt.Sprintf("sha-%d", i),
			Message:   fmt.Sprintf("commit %d", i),
			Author:    "dev",
			Timestamp: ts,
		}
	}
	return records
}

func TestSyncFirstTime(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{records: changesAt(now.Add(-time.Hour), now.Add(-2*time.Hour))}
	summarizer := &fakeSummarizer{text: "Working on the parser"}

	eng := New(source, summarizer, nil, WithClock(fixedClock(now)))

	err := eng.Sync(context.Background(), []github.RepositoryRef{testRepo("r1", now)})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	changes := eng.GetChanges("r1")
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}
	if got := eng.GetSummary("r1"); got != "Working on the parser" {
		t.Errorf("expected generated summary, got %q", got)
	}

	entry, ok := eng.Entry("r1")
	if !ok {
		t.Fatal("expected entry to exist")
	}
	if !entry.FetchedAt.Equal(now) {
		t.Errorf("expected FetchedAt %v, got %v", now, entry.FetchedAt)
	}
	if entry.Summary.Status != SummaryGenerated {
		t.Errorf("expected generated status, got %q", entry.Summary.Status)
	}
}

func TestSyncSkipsFreshEntry(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{records: changesAt(now.Add(-time.Hour))}
	summarizer := &fakeSummarizer{text: "summary"}

	eng := New(source, summarizer, nil, WithClock(fixedClock(now)))

	repo := testRepo("r1", now.Add(-time.Minute))
	ctx := context.Background()

	if err := eng.Sync(ctx, []github.RepositoryRef{repo}); err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	if got := source.calls.Load(); got != 1 {
		t.Fatalf("expected 1 fetch, got %d", got)
	}

	// Activity timestamp still older than FetchedAt: no refetch.
	if err := eng.Sync(ctx, []github.RepositoryRef{repo}); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if got := source.calls.Load(); got != 1 {
		t.Errorf("expected fresh entry to skip fetch, got %d calls", got)
	}

	// Cached data still intact.
	if len(eng.GetChanges("r1")) != 1 {
		t.Error("expected cached changes to survive a skipped sync")
	}
}

func TestSyncRefetchesOnEqualTimestamp(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{}
	eng := New(source, &fakeSummarizer{text: "s"}, nil, WithClock(fixedClock(now)))

	// LastActivityAt exactly equals FetchedAt after the first sync.
	repo := testRepo("r1", now)
	ctx := context.Background()

	if err := eng.Sync(ctx, []github.RepositoryRef{repo}); err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	if err := eng.Sync(ctx, []github.RepositoryRef{repo}); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if got := source.calls.Load(); got != 2 {
		t.Errorf("expected equal timestamp to force refetch, got %d calls", got)
	}
}

func TestSyncRefetchesOnNewerActivity(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{records: changesAt(now.Add(-time.Hour))}
	eng := New(source, &fakeSummarizer{text: "s"}, nil, WithClock(fixedClock(now)))

	ctx := context.Background()
	if err := eng.Sync(ctx, []github.RepositoryRef{testRepo("r1", now.Add(-time.Minute))}); err != nil {
		t.Fatalf("first sync failed: %v", err)
	}

	// New push after the fetch.
	if err := eng.Sync(ctx, []github.RepositoryRef{testRepo("r1", now.Add(time.Minute))}); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if got := source.calls.Load(); got != 2 {
		t.Errorf("expected newer activity to force refetch, got %d calls", got)
	}
}

func TestFetchedAtMonotonic(t *testing.T) {
	t1 := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	t0 := t1.Add(-time.Hour)

	source := &fakeSource{}
	clock := t1
	eng := New(source, &fakeSummarizer{text: "s"}, nil, WithClock(func() time.Time { return clock }))

	ctx := context.Background()
	if err := eng.Sync(ctx, []github.RepositoryRef{testRepo("r1", t1)}); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	// A sync whose clock reading predates the committed FetchedAt must not
	// move it backwards.
	clock = t0
	if err := eng.Sync(ctx, []github.RepositoryRef{testRepo("r1", t1)}); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}

	entry, _ := eng.Entry("r1")
	if entry.FetchedAt.Before(t1) {
		t.Errorf("FetchedAt moved backwards: %v < %v", entry.FetchedAt, t1)
	}
}

func TestFetchFailureCachesDegradedEntry(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{err: &github.FetchError{Reason: "rate limit exceeded"}}
	summarizer := &fakeSummarizer{text: "s"}

	eng := New(source, summarizer, nil, WithClock(fixedClock(now)))

	ctx := context.Background()
	if err := eng.Sync(ctx, []github.RepositoryRef{testRepo("r1", now)}); err != nil {
		t.Fatalf("sync returned error, want recorded failure: %v", err)
	}

	if got := eng.GetSummary("r1"); got != "Error: rate limit exceeded" {
		t.Errorf("expected degraded summary, got %q", got)
	}
	if got := eng.GetChanges("r1"); len(got) != 0 {
		t.Errorf("expected no changes on fetch failure, got %d", len(got))
	}
	if got := summarizer.calls.Load(); got != 0 {
		t.Errorf("summarizer should not run on fetch failure, got %d calls", got)
	}

	// The degraded entry gates retries: same activity timestamp is now older
	// than the failure's FetchedAt, so the next sync skips.
	if err := eng.Sync(ctx, []github.RepositoryRef{testRepo("r1", now.Add(-time.Second))}); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if got := source.calls.Load(); got != 1 {
		t.Errorf("expected failed entry to suppress retry, got %d calls", got)
	}

	// Newer activity clears the gate.
	source.err = nil
	source.records = changesAt(now)
	if err := eng.Sync(ctx, []github.RepositoryRef{testRepo("r1", now.Add(time.Minute))}); err != nil {
		t.Fatalf("third sync failed: %v", err)
	}
	if got := source.calls.Load(); got != 2 {
		t.Errorf("expected newer activity to retry after failure, got %d calls", got)
	}
	if got := eng.GetSummary("r1"); got != "s" {
		t.Errorf("expected recovery to replace degraded entry, got %q", got)
	}
}

func TestEmptyFetchSkipsSummarizer(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{records: nil}
	summarizer := &fakeSummarizer{text: "s"}

	eng := New(source, summarizer, nil, WithClock(fixedClock(now)))

	if err := eng.Sync(context.Background(), []github.RepositoryRef{testRepo("r1", now)}); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	if got := summarizer.calls.Load(); got != 0 {
		t.Errorf("summarizer must not run on empty fetch, got %d calls", got)
	}
	if got := eng.GetSummary("r1"); got != NoActivityText {
		t.Errorf("expected %q, got %q", NoActivityText, got)
	}
	entry, _ := eng.Entry("r1")
	if entry.Summary.Status != SummaryNoActivity {
		t.Errorf("expected no_activity status, got %q", entry.Summary.Status)
	}
}

func TestSummarizerFailureKeepsChanges(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{records: changesAt(now.Add(-time.Hour))}
	summarizer := &fakeSummarizer{err: errors.New("model unavailable")}

	eng := New(source, summarizer, nil, WithClock(fixedClock(now)))

	if err := eng.Sync(context.Background(), []github.RepositoryRef{testRepo("r1", now)}); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	if got := len(eng.GetChanges("r1")); got != 1 {
		t.Errorf("expected fetched changes kept despite summary failure, got %d", got)
	}
	want := "Summary generation failed: model unavailable"
	if got := eng.GetSummary("r1"); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestNilSummarizer(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{records: changesAt(now.Add(-time.Hour))}

	eng := New(source, nil, nil, WithClock(fixedClock(now)))

	if err := eng.Sync(context.Background(), []github.RepositoryRef{testRepo("r1", now)}); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	entry, _ := eng.Entry("r1")
	if entry.Summary.Status != SummaryFailed {
		t.Errorf("expected failed status without summarizer, got %q", entry.Summary.Status)
	}
}

func TestSummarizerGetsNewestFiveMessages(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	times := make([]time.Time, 8)
	for i := range times {
		times[i] = now.Add(-time.Duration(i) * time.Hour)
	}
	source := &fakeSource{records: changesAt(times...)}
	summarizer := &fakeSummarizer{text: "s"}

	eng := New(source, summarizer, nil, WithClock(fixedClock(now)))

	if err := eng.Sync(context.Background(), []github.RepositoryRef{testRepo("r1", now)}); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	if len(summarizer.messages) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(summarizer.messages))
	}
	// Records arrive newest first; the summarizer sees the head of the list.
	if summarizer.messages[0] != "commit 0" {
		t.Errorf("expected newest message first, got %q", summarizer.messages[0])
	}
}

func TestGetSummarySentinels(t *testing.T) {
	eng := New(&fakeSource{}, nil, nil)

	if got := eng.GetSummary("unknown"); got != NotSyncedText {
		t.Errorf("expected %q for unknown repo, got %q", NotSyncedText, got)
	}

	// An entry with an unrecognized summary status falls back to the
	// "no summary" sentinel.
	eng.commit(&CacheEntry{RepoID: "r1", FetchedAt: time.Now().UTC()})
	if got := eng.GetSummary("r1"); got != NoSummaryText {
		t.Errorf("expected %q, got %q", NoSummaryText, got)
	}
}

func TestGetChangesReturnsCopy(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{records: changesAt(now.Add(-time.Hour))}
	eng := New(source, &fakeSummarizer{text: "s"}, nil, WithClock(fixedClock(now)))

	if err := eng.Sync(context.Background(), []github.RepositoryRef{testRepo("r1", now)}); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	first := eng.GetChanges("r1")
	first[0].Message = "mutated"

	second := eng.GetChanges("r1")
	if second[0].Message == "mutated" {
		t.Error("GetChanges must return a copy, not the cached slice")
	}
}

func TestPersistRestoreRoundTrip(t *testing.T) {
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer db.Close()

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{records: changesAt(now.Add(-time.Hour))}
	eng := New(source, &fakeSummarizer{text: "persisted summary"}, db, WithClock(fixedClock(now)))

	if err := eng.Sync(context.Background(), []github.RepositoryRef{testRepo("r1", now)}); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	// A second engine over the same store restores the committed state.
	restored := New(&fakeSource{}, nil, db)
	if err := restored.Restore(); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	if got := restored.GetSummary("r1"); got != "persisted summary" {
		t.Errorf("expected restored summary, got %q", got)
	}
	changes := restored.GetChanges("r1")
	if len(changes) != 1 {
		t.Fatalf("expected 1 restored change, got %d", len(changes))
	}
	if changes[0].Timestamp.Location() != time.UTC {
		t.Errorf("expected restored timestamp in UTC, got %v", changes[0].Timestamp)
	}

	entry, _ := restored.Entry("r1")
	if !entry.FetchedAt.Equal(now) {
		t.Errorf("expected restored FetchedAt %v, got %v", now, entry.FetchedAt)
	}
}

func TestRestoreCorruptStore(t *testing.T) {
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer db.Close()

	_, err = db.Conn().Exec(
		`INSERT INTO cache_entries (repo_id, changes, fetched_at, summary_status)
		 VALUES ('bad', '{{{', '2026-08-20T12:00:00Z', 'generated')`,
	)
	if err != nil {
		t.Fatalf("inserting corrupt row: %v", err)
	}

	eng := New(&fakeSource{}, nil, db)
	err = eng.Restore()
	if !errors.Is(err, ErrCorruptStore) {
		t.Fatalf("expected ErrCorruptStore, got %v", err)
	}
	if len(eng.Entries()) != 0 {
		t.Error("expected empty cache after corrupt restore")
	}
}

func TestSyncNormalizesChangeTimestamps(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	zone := time.FixedZone("plus2", 2*3600)
	source := &fakeSource{records: []github.ChangeRecord{
		{ID: "s1", Message: "m", Timestamp: time.Date(2026, 8, 20, 13, 0, 0, 0, zone)},
	}}

	eng := New(source, &fakeSummarizer{text: "s"}, nil, WithClock(fixedClock(now)))

	if err := eng.Sync(context.Background(), []github.RepositoryRef{testRepo("r1", now)}); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	changes := eng.GetChanges("r1")
	if changes[0].Timestamp.Location() != time.UTC {
		t.Errorf("expected change timestamp in UTC, got %v", changes[0].Timestamp.Location())
	}
	want := time.Date(2026, 8, 20, 11, 0, 0, 0, time.UTC)
	if !changes[0].Timestamp.Equal(want) {
		t.Errorf("expected %v, got %v", want, changes[0].Timestamp)
	}
}

func TestNormalizeID(t *testing.T) {
	if got := NormalizeID("  123 "); got != "123" {
		t.Errorf("expected trimmed id, got %q", got)
	}
}
