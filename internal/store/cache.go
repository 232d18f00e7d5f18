package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Change is the persisted form of a single commit record.
type Change struct {
	SHA     string    `json:"sha"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
}

// CacheRecord is the persisted form of one repository's cache entry. The
// store is a flat mapping from repository identifier to record; every save
// replaces the row wholesale.
type CacheRecord struct {
	RepoID        string
	Changes       []Change
	FetchedAt     time.Time
	SummaryStatus string
	SummaryText   string
	SummarizedAt  *time.Time
}

// SaveEntry inserts or replaces a single cache record.
func (d *DB) SaveEntry(rec *CacheRecord) error {
	return d.saveEntry(d.db, rec)
}

// SaveEntries replaces all given records in one transaction.
func (d *DB) SaveEntries(records []*CacheRecord) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		if err := d.saveEntry(tx, rec); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (d *DB) saveEntry(e execer, rec *CacheRecord) error {
	changes, err := json.Marshal(rec.Changes)
	if err != nil {
		return fmt.Errorf("marshaling changes for %s: %w", rec.RepoID, err)
	}

	var summarizedAt any
	if rec.SummarizedAt != nil {
		summarizedAt = rec.SummarizedAt.UTC().Format(time.RFC3339)
	}

	_, err = e.Exec(
		`INSERT INTO cache_entries (repo_id, changes, fetched_at, summary_status, summary_text, summarized_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(repo_id) DO UPDATE SET
			changes = excluded.changes,
			fetched_at = excluded.fetched_at,
			summary_status = excluded.summary_status,
			summary_text = excluded.summary_text,
			summarized_at = excluded.summarized_at`,
		rec.RepoID, string(changes), rec.FetchedAt.UTC().Format(time.RFC3339),
		rec.SummaryStatus, rec.SummaryText, summarizedAt,
	)
	if err != nil {
		return fmt.Errorf("saving cache entry %s: %w", rec.RepoID, err)
	}
	return nil
}

// LoadEntries reads every cache record. A freshly created store yields an
// empty slice; rows that cannot be decoded make the whole load fail, since a
// partially readable cache cannot be trusted.
func (d *DB) LoadEntries() ([]*CacheRecord, error) {
	rows, err := d.db.Query(
		`SELECT repo_id, changes, fetched_at, summary_status, summary_text, summarized_at
		 FROM cache_entries ORDER BY repo_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying cache entries: %w", err)
	}
	defer rows.Close()

	var records []*CacheRecord
	for rows.Next() {
		rec, err := scanCacheRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountEntries returns the number of cached repositories.
func (d *DB) CountEntries() (int, error) {
	var n int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting cache entries: %w", err)
	}
	return n, nil
}

func scanCacheRecord(rows *sql.Rows) (*CacheRecord, error) {
	var rec CacheRecord
	var changesJSON, fetchedAt string
	var summaryText, summarizedAt sql.NullString

	err := rows.Scan(&rec.RepoID, &changesJSON, &fetchedAt, &rec.SummaryStatus, &summaryText, &summarizedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning cache entry: %w", err)
	}

	if err := json.Unmarshal([]byte(changesJSON), &rec.Changes); err != nil {
		return nil, fmt.Errorf("decoding changes for %s: %w", rec.RepoID, err)
	}
	// Timestamps are re-normalized to UTC on the way in; persisted values may
	// carry any zone offset.
	for i := range rec.Changes {
		rec.Changes[i].Date = rec.Changes[i].Date.UTC()
	}

	t, err := time.Parse(time.RFC3339, fetchedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing fetched_at for %s: %w", rec.RepoID, err)
	}
	rec.FetchedAt = t.UTC()

	rec.SummaryText = summaryText.String

	if summarizedAt.Valid {
		t, err := time.Parse(time.RFC3339, summarizedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing summarized_at for %s: %w", rec.RepoID, err)
		}
		utc := t.UTC()
		rec.SummarizedAt = &utc
	}

	return &rec, nil
}
