package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/starCarlos/HotSpot-Hunter/internal/domain"
	"github.com/starCarlos/HotSpot-Hunter/internal/infrastructure/storage/sqlitedb"
	"github.com/starCarlos/HotSpot-Hunter/internal/ports"
)

// FeedStore persists the feed dataset into feeds/YYYY-MM.db partitions,
// sharing the engine's pool and pragmas.
type FeedStore struct {
	pool   *Pool
	logger *slog.Logger
}

var _ ports.FeedStore = (*FeedStore)(nil)

// SaveFeedData merges one fetch cycle into its partition. A fetch identity
// (date, time) already on record is a no-op, mirroring snapshot saves.
func (s *FeedStore) SaveFeedData(ctx context.Context, data domain.FeedData) (int, int, error) {
	var newCount, updatedCount int

	if _, err := time.Parse(dayFormat, data.Date); err != nil {
		return 0, 0, storageErr(data.Date, "save-feeds", fmt.Errorf("invalid fetch date: %w", err))
	}

	month := monthOf(data.Date)
	db, err := s.pool.Acquire(DatasetFeeds, month)
	if err != nil {
		return 0, 0, storageErr(month, "save-feeds", err)
	}

	err = sqlitedb.RunTx(ctx, db, func(tx *sql.Tx) error {
		// RunTx re-invokes the closure on busy retry; counts from a rolled
		// back attempt must not carry over.
		newCount, updatedCount = 0, 0

		var existing int64
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM fetches WHERE fetch_date = ? AND fetch_time = ?",
			data.Date, data.CrawlTime,
		).Scan(&existing)
		if err == nil {
			s.logger.Debug("feed fetch already saved", "date", data.Date, "time", data.CrawlTime)
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO fetches (fetch_date, fetch_time) VALUES (?, ?)",
			data.Date, data.CrawlTime,
		)
		if err != nil {
			return fmt.Errorf("insert fetch: %w", err)
		}

		if err := upsertFeedNames(ctx, tx, data.FeedNames); err != nil {
			return err
		}

		for _, feedID := range sortedFeeds(data.Entries) {
			for _, entry := range data.Entries[feedID] {
				if entry.FeedID == "" {
					entry.FeedID = feedID
				}
				inserted, updated, err := upsertEntry(ctx, tx, entry, data.Date, data.CrawlTime)
				if err != nil {
					return err
				}
				if inserted {
					newCount++
				} else if updated {
					updatedCount++
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, storageErr(month, "save-feeds", err)
	}
	return newCount, updatedCount, nil
}

// GetFeedData returns every entry seen on a day, across all fetches.
func (s *FeedStore) GetFeedData(ctx context.Context, date string) (domain.FeedData, error) {
	if _, err := time.Parse(dayFormat, date); err != nil {
		return domain.FeedData{}, storageErr(date, "get-feeds", err)
	}

	data := emptyFeedData(date)
	month := monthOf(date)
	if !s.pool.Exists(DatasetFeeds, month) {
		return data, nil
	}
	db, err := s.pool.Acquire(DatasetFeeds, month)
	if err != nil {
		return domain.FeedData{}, storageErr(month, "get-feeds", err)
	}

	err = db.QueryRowContext(ctx,
		"SELECT fetch_time FROM fetches WHERE fetch_date = ? ORDER BY fetch_time DESC LIMIT 1",
		date,
	).Scan(&data.CrawlTime)
	if errors.Is(err, sql.ErrNoRows) {
		return data, nil
	}
	if err != nil {
		return domain.FeedData{}, storageErr(month, "get-feeds", err)
	}

	if err := loadFeedNames(ctx, db, data.FeedNames); err != nil {
		return domain.FeedData{}, storageErr(month, "get-feeds", err)
	}
	if err := loadEntries(ctx, db, data.Entries,
		"SELECT id, feed_id, entry_key, title, url, published, summary FROM entries "+
			"WHERE last_seen_date >= ? AND first_seen_date <= ? ORDER BY id",
		date, date,
	); err != nil {
		return domain.FeedData{}, storageErr(month, "get-feeds", err)
	}
	return data, nil
}

// GetLatestFeedData returns only the entries of the most recent fetch of
// the day.
func (s *FeedStore) GetLatestFeedData(ctx context.Context, date string) (domain.FeedData, error) {
	if _, err := time.Parse(dayFormat, date); err != nil {
		return domain.FeedData{}, storageErr(date, "get-latest-feeds", err)
	}

	data := emptyFeedData(date)
	month := monthOf(date)
	if !s.pool.Exists(DatasetFeeds, month) {
		return data, nil
	}
	db, err := s.pool.Acquire(DatasetFeeds, month)
	if err != nil {
		return domain.FeedData{}, storageErr(month, "get-latest-feeds", err)
	}

	err = db.QueryRowContext(ctx,
		"SELECT fetch_time FROM fetches WHERE fetch_date = ? ORDER BY fetch_time DESC LIMIT 1",
		date,
	).Scan(&data.CrawlTime)
	if errors.Is(err, sql.ErrNoRows) {
		return data, nil
	}
	if err != nil {
		return domain.FeedData{}, storageErr(month, "get-latest-feeds", err)
	}

	if err := loadFeedNames(ctx, db, data.FeedNames); err != nil {
		return domain.FeedData{}, storageErr(month, "get-latest-feeds", err)
	}
	if err := loadEntries(ctx, db, data.Entries,
		"SELECT id, feed_id, entry_key, title, url, published, summary FROM entries "+
			"WHERE last_seen_date = ? AND last_seen_time = ? ORDER BY id",
		date, data.CrawlTime,
	); err != nil {
		return domain.FeedData{}, storageErr(month, "get-latest-feeds", err)
	}
	return data, nil
}

// DetectNewEntries diffs a fetch against the partition before it is merged.
func (s *FeedStore) DetectNewEntries(ctx context.Context, data domain.FeedData) (map[string][]domain.FeedEntry, error) {
	out := make(map[string][]domain.FeedEntry)
	month := monthOf(data.Date)

	if !s.pool.Exists(DatasetFeeds, month) {
		for feedID, entries := range data.Entries {
			if len(entries) > 0 {
				out[feedID] = append([]domain.FeedEntry(nil), entries...)
			}
		}
		return out, nil
	}

	db, err := s.pool.Acquire(DatasetFeeds, month)
	if err != nil {
		return nil, storageErr(month, "detect-new-entries", err)
	}

	for _, feedID := range sortedFeeds(data.Entries) {
		rows, err := db.QueryContext(ctx,
			"SELECT entry_key FROM entries WHERE feed_id = ?", feedID)
		if err != nil {
			return nil, storageErr(month, "detect-new-entries", err)
		}
		known := make(map[string]bool)
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				rows.Close()
				return nil, storageErr(month, "detect-new-entries", err)
			}
			known[key] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, storageErr(month, "detect-new-entries", err)
		}
		rows.Close()

		for _, entry := range data.Entries[feedID] {
			if !known[entry.Key] {
				out[feedID] = append(out[feedID], entry)
			}
		}
	}
	return out, nil
}

func emptyFeedData(date string) domain.FeedData {
	return domain.FeedData{
		Date:      date,
		Entries:   make(map[string][]domain.FeedEntry),
		FeedNames: make(map[string]string),
	}
}

func sortedFeeds(entries map[string][]domain.FeedEntry) []string {
	out := make([]string, 0, len(entries))
	for id := range entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func upsertFeedNames(ctx context.Context, tx *sql.Tx, names map[string]string) error {
	ids := make([]string, 0, len(names))
	for id := range names {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO feeds (feed_id, name) VALUES (?, ?)
			ON CONFLICT (feed_id) DO UPDATE SET name = excluded.name
			WHERE excluded.name <> ''`,
			id, names[id],
		)
		if err != nil {
			return fmt.Errorf("upsert feed %s: %w", id, err)
		}
	}
	return nil
}

func upsertEntry(ctx context.Context, tx *sql.Tx, entry domain.FeedEntry, date, fetchTime string) (inserted, updated bool, err error) {
	var id int64
	var title, url, published, summary string
	err = tx.QueryRowContext(ctx,
		"SELECT id, title, url, published, summary FROM entries WHERE feed_id = ? AND entry_key = ?",
		entry.FeedID, entry.Key,
	).Scan(&id, &title, &url, &published, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entries (
				feed_id, entry_key, title, url, published, summary,
				first_seen_date, first_seen_time, last_seen_date, last_seen_time
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.FeedID, entry.Key, entry.Title, entry.URL, entry.Published, entry.Summary,
			date, fetchTime, date, fetchTime,
		)
		if err != nil {
			return false, false, fmt.Errorf("insert entry %s/%s: %w", entry.FeedID, entry.Key, err)
		}
		return true, false, nil
	}
	if err != nil {
		return false, false, err
	}

	changed := title != entry.Title || url != entry.URL ||
		published != entry.Published || summary != entry.Summary
	_, err = tx.ExecContext(ctx, `
		UPDATE entries SET title = ?, url = ?, published = ?, summary = ?,
			last_seen_date = ?, last_seen_time = ?
		WHERE id = ?`,
		entry.Title, entry.URL, entry.Published, entry.Summary, date, fetchTime, id,
	)
	if err != nil {
		return false, false, fmt.Errorf("update entry %s/%s: %w", entry.FeedID, entry.Key, err)
	}
	return false, changed, nil
}

func loadFeedNames(ctx context.Context, db *sql.DB, into map[string]string) error {
	rows, err := db.QueryContext(ctx, "SELECT feed_id, name FROM feeds")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return err
		}
		into[id] = name
	}
	return rows.Err()
}

func loadEntries(ctx context.Context, db *sql.DB, into map[string][]domain.FeedEntry, query string, args ...any) error {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var e domain.FeedEntry
		if err := rows.Scan(&id, &e.FeedID, &e.Key, &e.Title, &e.URL, &e.Published, &e.Summary); err != nil {
			return err
		}
		into[e.FeedID] = append(into[e.FeedID], e)
	}
	return rows.Err()
}
