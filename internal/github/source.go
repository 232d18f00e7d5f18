package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	gogithub "github.com/google/go-github/v60/github"

	"github.com/shuxueshuxue/gitdash/internal/retry"
)

// commitPageSize is the per-page limit for commit listings. A fetch window is
// bounded by a single page; the engine does no further capping.
const commitPageSize = 100

// FetchError is the single "fetch failed" condition the sync engine sees.
// Rate limits, missing repositories and transport failures all collapse into
// it; Reason carries a short human-readable message suitable for display.
type FetchError struct {
	Reason string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch failed: %s: %v", e.Reason, e.Err)
	}
	return "fetch failed: " + e.Reason
}

func (e *FetchError) Unwrap() error { return e.Err }

// fetchErr wraps an API error into a FetchError with a short reason.
func fetchErr(err error) *FetchError {
	var rle *gogithub.RateLimitError
	if errors.As(err, &rle) {
		return &FetchError{Reason: "rate limit exceeded", Err: err}
	}
	var are *gogithub.AbuseRateLimitError
	if errors.As(err, &are) {
		return &FetchError{Reason: "rate limit exceeded", Err: err}
	}
	var ghe *gogithub.ErrorResponse
	if errors.As(err, &ghe) && ghe.Response != nil {
		switch ghe.Response.StatusCode {
		case 404:
			return &FetchError{Reason: "repository not found", Err: err}
		case 401, 403:
			return &FetchError{Reason: "authentication failed", Err: err}
		}
		return &FetchError{Reason: fmt.Sprintf("API error (HTTP %d)", ghe.Response.StatusCode), Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Reason: "request timed out", Err: err}
	}
	return &FetchError{Reason: "network error", Err: err}
}

// Client is the activity source backed by the GitHub REST API. It normalizes
// every repository and commit it returns: identifiers to canonical string
// form, timestamps to absolute UTC instants.
type Client struct {
	gh     *gogithub.Client
	logger *slog.Logger
}

// NewClient wraps a go-github client as an activity source.
func NewClient(gh *gogithub.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{gh: gh, logger: logger}
}

// ListRepositories fetches repositories for the given user, sorted by most
// recently updated. An empty username lists the authenticated user's repos.
// The activity timestamp is taken from pushed_at, which moves for commits on
// any branch; updated_at does not.
func (c *Client) ListRepositories(ctx context.Context, username string, limit int) ([]RepositoryRef, error) {
	perPage := commitPageSize
	if limit > 0 && limit < perPage {
		perPage = limit
	}
	opts := &gogithub.RepositoryListOptions{
		Sort:        "updated",
		ListOptions: gogithub.ListOptions{PerPage: perPage},
	}
	if username == "" {
		opts.Type = "owner"
	}

	var repos []*gogithub.Repository
	var resp *gogithub.Response
	var listErr error
	err := retry.Do(ctx, retry.DefaultMaxAttempts, func() error {
		repos, resp, listErr = c.gh.Repositories.List(ctx, username, opts)
		if listErr != nil && resp != nil && !IsServerError(resp.Response) {
			// Client errors will not get better on retry.
			return nil
		}
		return listErr
	})
	if err == nil {
		err = listErr
	}
	if err != nil {
		return nil, fetchErr(err)
	}
	c.throttle(ctx, resp)

	refs := make([]RepositoryRef, 0, len(repos))
	for _, r := range repos {
		refs = append(refs, convertRepository(r))
		if limit > 0 && len(refs) >= limit {
			break
		}
	}
	return refs, nil
}

// Describe fetches a single repository's metadata.
func (c *Client) Describe(ctx context.Context, owner, name string) (RepositoryRef, error) {
	repo, _, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return RepositoryRef{}, fetchErr(err)
	}
	return convertRepository(repo), nil
}

// ListRecent fetches up to one page of commits since the given instant,
// newest first. When branchHint is empty the most recently active branch is
// detected and used; if detection fails the repository's default feed is
// used instead.
func (c *Client) ListRecent(ctx context.Context, owner, name string, since time.Time, branchHint string) ([]ChangeRecord, error) {
	branch := branchHint
	if branch == "" {
		detected, err := c.mostRecentBranch(ctx, owner, name)
		if err != nil {
			c.logger.Debug("branch detection failed, using default feed",
				"repo", owner+"/"+name, "error", err)
		} else {
			branch = detected
		}
	}

	opts := &gogithub.CommitsListOptions{
		SHA:         branch,
		Since:       since.UTC(),
		ListOptions: gogithub.ListOptions{PerPage: commitPageSize},
	}

	commits, err := c.listCommitsWithRetry(ctx, owner, name, opts)
	if err != nil {
		return nil, err
	}

	records := make([]ChangeRecord, 0, len(commits))
	for _, commit := range commits {
		records = append(records, convertCommit(commit))
	}
	return records, nil
}

// listCommitsWithRetry wraps the commits endpoint with retry logic for
// server errors and rate limit handling.
func (c *Client) listCommitsWithRetry(ctx context.Context, owner, name string, opts *gogithub.CommitsListOptions) ([]*gogithub.RepositoryCommit, error) {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := BackoffDuration(attempt - 1)
			c.logger.Debug("retrying commit fetch", "attempt", attempt, "wait", wait)
			select {
			case <-ctx.Done():
				return nil, fetchErr(ctx.Err())
			case <-time.After(wait):
			}
		}

		commits, resp, err := c.gh.Repositories.ListCommits(ctx, owner, name, opts)

		if resp != nil && IsRateLimitError(resp.Response) {
			wait, _ := HandleRateLimitError(resp.Response)
			c.logger.Info("rate limited, waiting", "repo", owner+"/"+name, "wait", wait)
			select {
			case <-ctx.Done():
				return nil, fetchErr(ctx.Err())
			case <-time.After(wait):
			}
			continue
		}

		if resp != nil && IsServerError(resp.Response) {
			if attempt < maxRetries {
				continue
			}
			return nil, &FetchError{Reason: fmt.Sprintf("server error after %d retries (HTTP %d)", maxRetries, resp.StatusCode)}
		}

		if err != nil {
			return nil, fetchErr(err)
		}

		c.throttle(ctx, resp)
		return commits, nil
	}

	return nil, &FetchError{Reason: "exhausted retries"}
}

// mostRecentBranch walks the repository's branches and returns the one whose
// head commit is newest. The branch list endpoint does not include commit
// dates, so each head is resolved individually.
func (c *Client) mostRecentBranch(ctx context.Context, owner, name string) (string, error) {
	branches, _, err := c.gh.Repositories.ListBranches(ctx, owner, name, &gogithub.BranchListOptions{
		ListOptions: gogithub.ListOptions{PerPage: commitPageSize},
	})
	if err != nil {
		return "", fetchErr(err)
	}
	if len(branches) == 0 {
		return "", fmt.Errorf("no branches")
	}

	var best string
	var bestDate time.Time
	for _, branch := range branches {
		sha := branch.GetCommit().GetSHA()
		if sha == "" {
			continue
		}
		detail, _, err := c.gh.Repositories.GetCommit(ctx, owner, name, sha, nil)
		if err != nil {
			return "", fetchErr(err)
		}
		date := detail.GetCommit().GetAuthor().GetDate().Time.UTC()
		if best == "" || date.After(bestDate) {
			best = branch.GetName()
			bestDate = date
		}
	}
	if best == "" {
		return "", fmt.Errorf("no resolvable branch heads")
	}
	return best, nil
}

// RateLimit returns the current core API quota.
func (c *Client) RateLimit(ctx context.Context) (remaining, limit int, reset time.Time, err error) {
	limits, _, err := c.gh.RateLimit.Get(ctx)
	if err != nil {
		return 0, 0, time.Time{}, fetchErr(err)
	}
	core := limits.GetCore()
	if core == nil {
		return 0, 0, time.Time{}, fmt.Errorf("no core rate limit in response")
	}
	return core.Remaining, core.Limit, core.Reset.Time, nil
}

// throttle sleeps until the rate limit resets when the remaining quota is low.
func (c *Client) throttle(ctx context.Context, resp *gogithub.Response) {
	if resp == nil {
		return
	}
	rl := ParseRateLimit(resp.Response)
	if rl == nil || !rl.ShouldThrottle() {
		return
	}
	wait := rl.WaitDuration()
	if wait <= 0 {
		return
	}
	c.logger.Info("rate limit low, throttling", "remaining", rl.Remaining, "wait", wait)
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

// convertRepository normalizes a go-github repository into a RepositoryRef.
func convertRepository(r *gogithub.Repository) RepositoryRef {
	ref := RepositoryRef{
		ID:   strconv.FormatInt(r.GetID(), 10),
		Name: r.GetName(),
	}
	if r.Owner != nil {
		ref.Owner = r.Owner.GetLogin()
	}
	ref.Language = r.GetLanguage()
	if r.PushedAt != nil {
		ref.LastActivityAt = r.PushedAt.Time.UTC()
	}
	return ref
}

// convertCommit normalizes a go-github commit into a ChangeRecord.
func convertCommit(rc *gogithub.RepositoryCommit) ChangeRecord {
	record := ChangeRecord{
		ID: rc.GetSHA(),
	}
	if commit := rc.GetCommit(); commit != nil {
		record.Message = commit.GetMessage()
		if author := commit.GetAuthor(); author != nil {
			record.Author = author.GetName()
			record.Timestamp = author.GetDate().Time.UTC()
		}
	}
	return record
}
