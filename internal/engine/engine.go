package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shuxueshuxue/gitdash/internal/github"
	"github.com/shuxueshuxue/gitdash/internal/pubsub"
	"github.com/shuxueshuxue/gitdash/internal/store"
)

const (
	// defaultWindow is the fetch lookback; 30 days covers the longest
	// scoring window.
	defaultWindow = 30 * 24 * time.Hour

	// summaryMessages is how many of the newest change messages feed the
	// summarizer.
	summaryMessages = 5

	// defaultTimeout bounds each external call (fetch, summarize).
	defaultTimeout = 30 * time.Second

	// defaultWorkers bounds concurrent repository syncs.
	defaultWorkers = 5

	// maxReasonLen caps failure reasons stored in cache entries.
	maxReasonLen = 80
)

// ActivitySource supplies recent change records for a repository.
type ActivitySource interface {
	// ListRecent returns changes since the given instant, newest first.
	// An empty branchHint lets the source pick the most active branch.
	ListRecent(ctx context.Context, owner, name string, since time.Time, branchHint string) ([]github.ChangeRecord, error)
}

// Summarizer produces a short description from recent commit messages.
// It must not be called with an empty message list.
type Summarizer interface {
	Summarize(ctx context.Context, repoName string, messages []string) (string, error)
}

// SyncEvent is published per repository as a sync pass progresses.
type SyncEvent struct {
	RepoID  string
	Repo    string
	Fetched int
	Status  SummaryStatus
	Reason  string
}

// Engine is the incremental sync-and-cache engine. It holds the in-memory
// cache map, decides per repository whether observed activity requires a
// refetch, orchestrates fetch and summarization, and flushes to the durable
// store after each batch.
//
// Reads (GetChanges, GetSummary) never block on in-flight syncs; they see the
// last fully committed entry. Overlapping Sync calls are tolerated: both
// evaluate staleness against whatever entry exists, and the later commit wins
// with a monotonic FetchedAt.
type Engine struct {
	source     ActivitySource
	summarizer Summarizer
	db         *store.DB
	broker     *pubsub.Broker[SyncEvent]
	logger     *slog.Logger

	now     func() time.Time
	window  time.Duration
	timeout time.Duration
	workers int

	mu      sync.RWMutex
	entries map[string]*CacheEntry
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's clock. Used for time-travel debugging and
// tests; the clock's readings become FetchedAt values.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithWindow overrides the fetch lookback window.
func WithWindow(d time.Duration) Option {
	return func(e *Engine) { e.window = d }
}

// WithTimeout overrides the per-call timeout for fetch and summarize.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithWorkers overrides the concurrent sync limit.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithBroker sets the broker sync events are published to.
func WithBroker(b *pubsub.Broker[SyncEvent]) Option {
	return func(e *Engine) { e.broker = b }
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine. db may be nil, in which case Persist and Restore
// are no-ops and the cache lives only in memory.
func New(source ActivitySource, summarizer Summarizer, db *store.DB, opts ...Option) *Engine {
	e := &Engine{
		source:     source,
		summarizer: summarizer,
		db:         db,
		logger:     slog.Default(),
		now:        time.Now,
		window:     defaultWindow,
		timeout:    defaultTimeout,
		workers:    defaultWorkers,
		entries:    make(map[string]*CacheEntry),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sync refreshes the cache for every given repository. Repositories are
// handled independently and concurrently; a failure on one is recorded into
// its own entry and never blocks the others. The only error Sync returns is
// a failure to flush the store afterwards.
func (e *Engine) Sync(ctx context.Context, repos []github.RepositoryRef) error {
	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup

	for _, ref := range repos {
		wg.Add(1)
		sem <- struct{}{}
		go func(ref github.RepositoryRef) {
			defer wg.Done()
			defer func() { <-sem }()
			e.syncRepo(ctx, ref)
		}(ref)
	}
	wg.Wait()

	if err := e.Persist(); err != nil {
		return fmt.Errorf("persisting cache: %w", err)
	}
	return nil
}

// syncRepo runs the staleness check, fetch and summarization for one
// repository and commits the resulting entry.
func (e *Engine) syncRepo(ctx context.Context, ref github.RepositoryRef) {
	id := NormalizeID(ref.ID)

	e.mu.RLock()
	existing := e.entries[id]
	e.mu.RUnlock()

	// Fresh only when the source's activity signal is strictly older than
	// our last fetch; equal or newer forces a refetch. Both sides are
	// absolute UTC instants.
	if existing != nil && ref.LastActivityAt.UTC().Before(existing.FetchedAt) {
		e.publish(pubsub.Skipped, SyncEvent{RepoID: id, Repo: ref.FullName()})
		return
	}

	now := e.now().UTC()

	fetchCtx, cancel := context.WithTimeout(ctx, e.timeout)
	changes, err := e.source.ListRecent(fetchCtx, ref.Owner, ref.Name, now.Add(-e.window), "")
	cancel()

	if err != nil {
		reason := shortReason(err)
		e.logger.Warn("fetch failed", "repo", ref.FullName(), "error", err)
		// Cache the failure so the next sync does not retry until the
		// source reports activity newer than this attempt.
		e.commit(&CacheEntry{
			RepoID:       id,
			FetchedAt:    now,
			Summary:      Summary{Status: SummaryFetchFailed, Text: reason},
			SummarizedAt: now,
		})
		e.publish(pubsub.Failed, SyncEvent{RepoID: id, Repo: ref.FullName(), Status: SummaryFetchFailed, Reason: reason})
		return
	}

	for i := range changes {
		changes[i].Timestamp = changes[i].Timestamp.UTC()
	}

	entry := &CacheEntry{
		RepoID:    id,
		Changes:   changes,
		FetchedAt: now,
	}

	if len(changes) == 0 {
		entry.Summary = Summary{Status: SummaryNoActivity}
		entry.SummarizedAt = now
	} else {
		entry.Summary = e.summarize(ctx, ref.Name, changes)
		entry.SummarizedAt = e.now().UTC()
	}

	e.commit(entry)
	e.logger.Debug("synced", "repo", ref.FullName(), "changes", len(changes), "summary", entry.Summary.Status)
	e.publish(pubsub.Fetched, SyncEvent{RepoID: id, Repo: ref.FullName(), Fetched: len(changes), Status: entry.Summary.Status})
}

// summarize runs the summarizer over the newest change messages. Failures
// become tagged degraded summaries; the fetched changes are kept either way.
func (e *Engine) summarize(ctx context.Context, repoName string, changes []github.ChangeRecord) Summary {
	if e.summarizer == nil {
		return Summary{Status: SummaryFailed, Text: "no summarizer configured"}
	}

	n := len(changes)
	if n > summaryMessages {
		n = summaryMessages
	}
	messages := make([]string, n)
	for i := 0; i < n; i++ {
		messages[i] = changes[i].Message
	}

	sumCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	text, err := e.summarizer.Summarize(sumCtx, repoName, messages)
	if err != nil {
		e.logger.Warn("summarization failed", "repo", repoName, "error", err)
		return Summary{Status: SummaryFailed, Text: shortReason(err)}
	}
	return Summary{Status: SummaryGenerated, Text: text}
}

// commit installs an entry, serialized against other repositories' writes.
// FetchedAt never moves backwards, so overlapping syncs of the same
// repository resolve to last-write-wins without back-dating.
func (e *Engine) commit(entry *CacheEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if old := e.entries[entry.RepoID]; old != nil && entry.FetchedAt.Before(old.FetchedAt) {
		entry.FetchedAt = old.FetchedAt
	}
	e.entries[entry.RepoID] = entry
}

// GetChanges returns the cached change records for a repository, newest
// first, or an empty slice when the repository is unknown. It never triggers
// a fetch.
func (e *Engine) GetChanges(id string) []github.ChangeRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entry := e.entries[NormalizeID(id)]
	if entry == nil {
		return nil
	}
	out := make([]github.ChangeRecord, len(entry.Changes))
	copy(out, entry.Changes)
	return out
}

// GetSummary returns the display string for a repository's working state:
// the generated summary, a degraded failure line, or one of the fixed
// sentinels when nothing has been synced or summarized.
func (e *Engine) GetSummary(id string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entry := e.entries[NormalizeID(id)]
	if entry == nil {
		return NotSyncedText
	}
	return entry.Summary.Display()
}

// Entry returns a copy of the cache entry for a repository.
func (e *Engine) Entry(id string) (CacheEntry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entry := e.entries[NormalizeID(id)]
	if entry == nil {
		return CacheEntry{}, false
	}
	return *entry, true
}

// Entries returns a snapshot of all cache entries, ordered by repository id.
func (e *Engine) Entries() []CacheEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]CacheEntry, 0, len(e.entries))
	for _, entry := range e.entries {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RepoID < out[j].RepoID })
	return out
}

// Persist flushes every cache entry to the durable store in one transaction.
func (e *Engine) Persist() error {
	if e.db == nil {
		return nil
	}

	e.mu.RLock()
	records := make([]*store.CacheRecord, 0, len(e.entries))
	for _, entry := range e.entries {
		records = append(records, toRecord(entry))
	}
	e.mu.RUnlock()

	return e.db.SaveEntries(records)
}

// ErrCorruptStore marks a persisted cache that could not be decoded.
var ErrCorruptStore = errors.New("cache store is corrupt")

// Restore loads the persisted cache. A missing or empty store is not an
// error. A store that exists but cannot be decoded surfaces ErrCorruptStore
// and leaves the in-memory cache empty; syncing from scratch is the only
// safe recovery.
func (e *Engine) Restore() error {
	if e.db == nil {
		return nil
	}

	records, err := e.db.LoadEntries()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}

	entries := make(map[string]*CacheEntry, len(records))
	for _, rec := range records {
		entry := fromRecord(rec)
		entries[entry.RepoID] = entry
	}

	e.mu.Lock()
	e.entries = entries
	e.mu.Unlock()
	return nil
}

// toRecord converts a cache entry to its persisted form.
func toRecord(entry *CacheEntry) *store.CacheRecord {
	rec := &store.CacheRecord{
		RepoID:        entry.RepoID,
		Changes:       make([]store.Change, len(entry.Changes)),
		FetchedAt:     entry.FetchedAt,
		SummaryStatus: string(entry.Summary.Status),
		SummaryText:   entry.Summary.Text,
	}
	for i, c := range entry.Changes {
		rec.Changes[i] = store.Change{
			SHA:     c.ID,
			Message: c.Message,
			Author:  c.Author,
			Date:    c.Timestamp,
		}
	}
	if !entry.SummarizedAt.IsZero() {
		t := entry.SummarizedAt
		rec.SummarizedAt = &t
	}
	return rec
}

// fromRecord converts a persisted record back to a cache entry, normalizing
// identifiers and timestamps at the boundary.
func fromRecord(rec *store.CacheRecord) *CacheEntry {
	entry := &CacheEntry{
		RepoID:    NormalizeID(rec.RepoID),
		Changes:   make([]github.ChangeRecord, len(rec.Changes)),
		FetchedAt: rec.FetchedAt.UTC(),
		Summary: Summary{
			Status: SummaryStatus(rec.SummaryStatus),
			Text:   rec.SummaryText,
		},
	}
	for i, c := range rec.Changes {
		entry.Changes[i] = github.ChangeRecord{
			ID:        c.SHA,
			Message:   c.Message,
			Author:    c.Author,
			Timestamp: c.Date.UTC(),
		}
	}
	if rec.SummarizedAt != nil {
		entry.SummarizedAt = rec.SummarizedAt.UTC()
	}
	return entry
}

// publish sends a sync event when a broker is configured.
func (e *Engine) publish(eventType pubsub.EventType, evt SyncEvent) {
	if e.broker != nil {
		e.broker.Publish(eventType, evt)
	}
}

// shortReason extracts a short display reason from an error, preferring the
// activity source's own condensed message.
func shortReason(err error) string {
	var fe *github.FetchError
	if errors.As(err, &fe) {
		return truncate(fe.Reason, maxReasonLen)
	}
	return truncate(err.Error(), maxReasonLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
