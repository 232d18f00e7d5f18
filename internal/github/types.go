package github

import "time"

// RepositoryRef identifies a repository and carries the activity signal used
// for staleness checks. All timestamps are absolute UTC instants, normalized
// when they enter the system.
type RepositoryRef struct {
	// ID is the stable repository identifier used as the cache key. It is
	// kept in canonical string form because cache keys survive a
	// persist/reload cycle as strings.
	ID       string
	Name     string
	Owner    string
	Language string

	// LastActivityAt is the most recent push the hosting API reports for
	// any branch. It is a staleness signal only, not the timestamp of any
	// particular commit.
	LastActivityAt time.Time
}

// FullName returns the owner/name form of the repository.
func (r RepositoryRef) FullName() string {
	return r.Owner + "/" + r.Name
}

// URL returns the canonical web URL for the repository.
func (r RepositoryRef) URL() string {
	return "https://github.com/" + r.Owner + "/" + r.Name
}

// ChangeRecord is a single normalized commit. Batches are ordered newest
// first, exactly as the source returns them; the newest records feed the
// summarizer, so order is load-bearing.
type ChangeRecord struct {
	ID        string    `json:"sha"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"date"`
}
