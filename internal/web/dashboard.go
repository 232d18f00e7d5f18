// Package web serves the dashboard page and its JSON API.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shuxueshuxue/gitdash/internal/board"
	"github.com/shuxueshuxue/gitdash/internal/github"
)

// RepoLister supplies the repository set to render.
type RepoLister interface {
	ListRepositories(ctx context.Context, username string, limit int) ([]github.RepositoryRef, error)
}

// Syncer refreshes and exposes the activity cache.
type Syncer interface {
	Sync(ctx context.Context, repos []github.RepositoryRef) error
	GetChanges(id string) []github.ChangeRecord
	GetSummary(id string) string
}

// Snapshot is the dashboard payload served to clients.
type Snapshot struct {
	Projects  []board.Row `json:"projects"`
	Timestamp string      `json:"timestamp"`
	RepoCount int         `json:"repo_count"`
}

// Dashboard runs the refresh pipeline and holds the latest snapshot.
// Refreshes replace the snapshot atomically; readers never see a
// half-built one.
type Dashboard struct {
	lister   RepoLister
	syncer   Syncer
	username string
	limit    int
	now      func() time.Time
	logger   *slog.Logger

	mu          sync.RWMutex
	snapshot    *Snapshot
	lastRefresh time.Time
}

// DashboardOption configures a Dashboard.
type DashboardOption func(*Dashboard)

// WithUsername scopes repository listing to a specific user instead of the
// authenticated one.
func WithUsername(username string) DashboardOption {
	return func(d *Dashboard) { d.username = username }
}

// WithRepoLimit caps how many repositories a refresh pulls in.
func WithRepoLimit(limit int) DashboardOption {
	return func(d *Dashboard) {
		if limit > 0 {
			d.limit = limit
		}
	}
}

// WithClock overrides the dashboard's clock.
func WithClock(now func() time.Time) DashboardOption {
	return func(d *Dashboard) { d.now = now }
}

// WithDashboardLogger sets the dashboard's logger.
func WithDashboardLogger(l *slog.Logger) DashboardOption {
	return func(d *Dashboard) { d.logger = l }
}

// NewDashboard creates a Dashboard over a repository lister and sync engine.
func NewDashboard(lister RepoLister, syncer Syncer, opts ...DashboardOption) *Dashboard {
	d := &Dashboard{
		lister: lister,
		syncer: syncer,
		limit:  15,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Refresh lists repositories, syncs their activity and rebuilds the
// snapshot. The previous snapshot stays visible until the new one is ready.
func (d *Dashboard) Refresh(ctx context.Context) (*Snapshot, error) {
	repos, err := d.lister.ListRepositories(ctx, d.username, d.limit)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}

	if err := d.syncer.Sync(ctx, repos); err != nil {
		// Sync only errors on a persistence failure; the in-memory cache
		// is still current, so render anyway.
		d.logger.Warn("cache persistence failed during refresh", "error", err)
	}

	now := d.now().UTC()
	snap := &Snapshot{
		Projects:  board.ComputeRows(repos, d.syncer, now),
		Timestamp: now.Format(time.RFC3339),
		RepoCount: len(repos),
	}

	d.mu.Lock()
	d.snapshot = snap
	d.lastRefresh = now
	d.mu.Unlock()

	d.logger.Info("dashboard refreshed", "repos", len(repos))
	return snap, nil
}

// Current returns the latest snapshot, or false when no refresh has
// completed yet.
func (d *Dashboard) Current() (*Snapshot, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.snapshot == nil {
		return nil, false
	}
	return d.snapshot, true
}

// LastRefresh returns when the snapshot was last rebuilt, or false when it
// never was.
func (d *Dashboard) LastRefresh() (time.Time, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastRefresh.IsZero() {
		return time.Time{}, false
	}
	return d.lastRefresh, true
}
