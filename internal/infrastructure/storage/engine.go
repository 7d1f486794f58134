package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/starCarlos/HotSpot-Hunter/internal/domain"
	"github.com/starCarlos/HotSpot-Hunter/internal/infrastructure/storage/sqlitedb"
	"github.com/starCarlos/HotSpot-Hunter/internal/ports"
)

const dayFormat = "2006-01-02"

// Engine is the partitioned storage engine: one sqlite file per calendar
// month per dataset. Writes to a partition are transactional; concurrent
// writers serialize through the WAL busy timeout.
type Engine struct {
	pool   *Pool
	logger *slog.Logger
}

var (
	_ ports.Store        = (*Engine)(nil)
	_ ports.PushRecorder = (*Engine)(nil)
)

// NewEngine creates the engine rooted at dataDir.
func NewEngine(dataDir string, busyTimeoutMS int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		pool:   NewPool(dataDir, busyTimeoutMS),
		logger: logger,
	}
}

// Close releases all partition handles.
func (e *Engine) Close() error { return e.pool.Close() }

// Feeds returns the secondary feed-dataset store sharing this engine's pool.
func (e *Engine) Feeds() *FeedStore { return &FeedStore{pool: e.pool, logger: e.logger} }

func storageErr(partition, op string, err error) error {
	return &domain.StorageError{Partition: partition, Op: op, Err: err}
}

// monthOf maps a YYYY-MM-DD day onto its YYYY-MM partition key.
func monthOf(date string) string {
	if len(date) < 7 {
		return date
	}
	return date[:7]
}

// ParseScope splits a scope argument into its inclusive day bounds.
// Accepted forms: "2024-01-01" and "2024-01-01~2024-01-03".
func ParseScope(scope string) (start, end string, err error) {
	const rangeSep = "~"
	start, end = scope, scope
	if i := strings.Index(scope, rangeSep); i >= 0 {
		start, end = scope[:i], scope[i+1:]
	}
	for _, d := range [...]string{start, end} {
		if _, perr := time.Parse(dayFormat, d); perr != nil {
			return "", "", fmt.Errorf("invalid scope %q: %w", scope, perr)
		}
	}
	if end < start {
		start, end = end, start
	}
	return start, end, nil
}

// monthsBetween lists the YYYY-MM partitions a day range spans.
func monthsBetween(start, end string) []string {
	first, _ := time.Parse(dayFormat, start)
	last, _ := time.Parse(dayFormat, end)
	first = time.Date(first.Year(), first.Month(), 1, 0, 0, 0, 0, time.UTC)

	var months []string
	for m := first; !m.After(last); m = m.AddDate(0, 1, 0) {
		months = append(months, m.Format("2006-01"))
	}
	return months
}

// Save merges one snapshot into its partition and reports per-item deltas.
// A crawl identity (date, time) that was already saved is a no-op, which
// makes retried saves idempotent.
func (e *Engine) Save(ctx context.Context, snap domain.Snapshot) (domain.SaveResult, error) {
	var res domain.SaveResult

	if _, err := time.Parse(dayFormat, snap.Date); err != nil {
		return res, storageErr(snap.Date, "save", fmt.Errorf("invalid snapshot date: %w", err))
	}

	month := monthOf(snap.Date)
	db, err := e.pool.Acquire(DatasetNews, month)
	if err != nil {
		return res, storageErr(month, "save", err)
	}

	err = sqlitedb.RunTx(ctx, db, func(tx *sql.Tx) error {
		// RunTx re-invokes the closure on busy retry; counts from a rolled
		// back attempt must not carry over.
		res = domain.SaveResult{}

		var existingCrawl int64
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM crawls WHERE crawl_date = ? AND crawl_time = ?",
			snap.Date, snap.CrawlTime,
		).Scan(&existingCrawl)
		if err == nil {
			e.logger.Debug("crawl already saved", "date", snap.Date, "time", snap.CrawlTime)
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		prior, hasPrior, err := priorCrawl(ctx, tx, snap.Date)
		if err != nil {
			return err
		}

		crawlID, err := insertCrawl(ctx, tx, snap)
		if err != nil {
			return err
		}
		if err := recordFailures(ctx, tx, crawlID, snap.FailedPlatformIDs); err != nil {
			return err
		}
		if err := upsertPlatformNames(ctx, tx, snap.PlatformNames); err != nil {
			return err
		}

		ref := snap.Ref()
		for _, platform := range sortedPlatforms(snap.Items) {
			incoming := dedupeIncoming(snap.Items[platform], platform, ref)

			existing, err := loadPlatformItems(ctx, tx, platform)
			if err != nil {
				return err
			}

			seen := make(map[string]bool, len(incoming))
			for _, in := range incoming {
				seen[in.NormalizedTitle] = true

				ex, ok := existing[in.NormalizedTitle]
				if !ok {
					if err := insertItem(ctx, tx, in); err != nil {
						return err
					}
					res.New++
					continue
				}

				merged := domain.MergeItems(ex, in)
				switch {
				case merged.Title != ex.Title:
					res.TitleChanged++
				case itemChanged(ex, merged):
					res.Updated++
				default:
					continue
				}
				if err := updateItem(ctx, tx, merged); err != nil {
					return err
				}
			}

			if hasPrior {
				for key, ex := range existing {
					if !seen[key] && ex.LastSeen == prior {
						res.Dropped++
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return domain.SaveResult{}, storageErr(month, "save", err)
	}
	return res, nil
}

// DetectNew diffs a snapshot against the partition state before this crawl
// is merged: keys absent from the partition are new. It scopes the
// importance pipeline to genuinely fresh items.
func (e *Engine) DetectNew(ctx context.Context, snap domain.Snapshot) (map[string]map[string]domain.Item, error) {
	month := monthOf(snap.Date)
	out := make(map[string]map[string]domain.Item)
	ref := snap.Ref()

	if !e.pool.Exists(DatasetNews, month) {
		for _, platform := range sortedPlatforms(snap.Items) {
			out[platform] = indexByKey(dedupeIncoming(snap.Items[platform], platform, ref))
		}
		return out, nil
	}

	db, err := e.pool.Acquire(DatasetNews, month)
	if err != nil {
		return nil, storageErr(month, "detect-new", err)
	}

	for _, platform := range sortedPlatforms(snap.Items) {
		known, err := knownKeys(ctx, db, platform)
		if err != nil {
			return nil, storageErr(month, "detect-new", err)
		}
		fresh := make(map[string]domain.Item)
		for key, it := range indexByKey(dedupeIncoming(snap.Items[platform], platform, ref)) {
			if !known[key] {
				fresh[key] = it
			}
		}
		if len(fresh) > 0 {
			out[platform] = fresh
		}
	}
	return out, nil
}

// GetMerged returns the snapshot merged across every crawl inside the
// scope. Ranges spanning a month boundary are merged across partitions
// here, at the engine boundary.
func (e *Engine) GetMerged(ctx context.Context, scope string) (domain.Snapshot, error) {
	start, end, err := ParseScope(scope)
	if err != nil {
		return domain.Snapshot{}, storageErr(scope, "get-merged", err)
	}

	label := start
	if start != end {
		label = start + "~" + end
	}
	snap := emptySnapshot(label)

	acc := make(map[string]map[string]domain.Item)
	failed := make(map[string]struct{})
	var lastCrawlDate string

	for _, month := range monthsBetween(start, end) {
		if !e.pool.Exists(DatasetNews, month) {
			continue
		}
		db, err := e.pool.Acquire(DatasetNews, month)
		if err != nil {
			return domain.Snapshot{}, storageErr(month, "get-merged", err)
		}

		crawlDate, crawlTime, failedIDs, err := crawlWindow(ctx, db, start, end)
		if err != nil {
			return domain.Snapshot{}, storageErr(month, "get-merged", err)
		}
		if crawlDate == "" {
			continue
		}
		if crawlDate > lastCrawlDate || (crawlDate == lastCrawlDate && crawlTime > snap.CrawlTime) {
			lastCrawlDate, snap.CrawlTime = crawlDate, crawlTime
		}
		for _, id := range failedIDs {
			failed[id] = struct{}{}
		}

		if err := mergeNames(ctx, db, snap.PlatformNames); err != nil {
			return domain.Snapshot{}, storageErr(month, "get-merged", err)
		}

		items, err := itemsInWindow(ctx, db, start, end)
		if err != nil {
			return domain.Snapshot{}, storageErr(month, "get-merged", err)
		}
		for _, it := range items {
			scoped, ok := scopeItem(it, start, end)
			if !ok {
				continue
			}
			byKey, ok := acc[scoped.PlatformID]
			if !ok {
				byKey = make(map[string]domain.Item)
				acc[scoped.PlatformID] = byKey
			}
			if prev, ok := byKey[scoped.NormalizedTitle]; ok {
				scoped = domain.MergeItems(prev, scoped)
			}
			byKey[scoped.NormalizedTitle] = scoped
		}
	}

	for platform, byKey := range acc {
		list := make([]domain.Item, 0, len(byKey))
		for _, it := range byKey {
			list = append(list, it)
		}
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Rank != list[j].Rank {
				return list[i].Rank < list[j].Rank
			}
			return list[i].NormalizedTitle < list[j].NormalizedTitle
		})
		snap.Items[platform] = list
	}
	for id := range failed {
		snap.FailedPlatformIDs = append(snap.FailedPlatformIDs, id)
	}
	sort.Strings(snap.FailedPlatformIDs)
	return snap, nil
}

// GetLatest returns only the most recent crawl's items for a day, unmerged
// with earlier crawls of the same day.
func (e *Engine) GetLatest(ctx context.Context, date string) (domain.Snapshot, error) {
	if _, err := time.Parse(dayFormat, date); err != nil {
		return domain.Snapshot{}, storageErr(date, "get-latest", err)
	}

	snap := emptySnapshot(date)
	month := monthOf(date)
	if !e.pool.Exists(DatasetNews, month) {
		return snap, nil
	}

	db, err := e.pool.Acquire(DatasetNews, month)
	if err != nil {
		return domain.Snapshot{}, storageErr(month, "get-latest", err)
	}

	var crawlID int64
	var crawlTime string
	err = db.QueryRowContext(ctx,
		"SELECT id, crawl_time FROM crawls WHERE crawl_date = ? ORDER BY crawl_time DESC LIMIT 1",
		date,
	).Scan(&crawlID, &crawlTime)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, nil
	}
	if err != nil {
		return domain.Snapshot{}, storageErr(month, "get-latest", err)
	}
	snap.CrawlTime = crawlTime
	ref := domain.CrawlRef{Date: date, Time: crawlTime}

	if err := mergeNames(ctx, db, snap.PlatformNames); err != nil {
		return domain.Snapshot{}, storageErr(month, "get-latest", err)
	}

	snap.FailedPlatformIDs, err = failuresForCrawl(ctx, db, crawlID)
	if err != nil {
		return domain.Snapshot{}, storageErr(month, "get-latest", err)
	}

	items, err := itemsInWindow(ctx, db, date, date)
	if err != nil {
		return domain.Snapshot{}, storageErr(month, "get-latest", err)
	}
	for _, it := range items {
		rec, ok := recordAt(it, ref)
		if !ok {
			continue
		}
		view := it
		view.Rank = rec.Rank
		view.RankHistory = []domain.RankRecord{rec}
		view.FirstSeen, view.LastSeen = ref, ref
		view.ObservationCount = 1
		snap.Items[it.PlatformID] = append(snap.Items[it.PlatformID], view)
	}
	for platform := range snap.Items {
		list := snap.Items[platform]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Rank < list[j].Rank })
		snap.Items[platform] = list
	}
	return snap, nil
}

// GetRatings batch-fetches importance values for a set of keys within a scope.
func (e *Engine) GetRatings(ctx context.Context, keys []domain.RatingKey, scope string) (map[domain.RatingKey]domain.Importance, error) {
	out := make(map[domain.RatingKey]domain.Importance, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	start, end, err := ParseScope(scope)
	if err != nil {
		return nil, storageErr(scope, "get-ratings", err)
	}

	// Several literal titles can normalize onto the same stored row.
	byNorm := make(map[domain.ItemKey][]domain.RatingKey, len(keys))
	for _, key := range keys {
		norm := domain.ItemKey{PlatformID: key.PlatformID, NormalizedTitle: domain.NormalizeTitle(key.Title)}
		byNorm[norm] = append(byNorm[norm], key)
	}

	for _, month := range monthsBetween(start, end) {
		if !e.pool.Exists(DatasetNews, month) {
			continue
		}
		db, err := e.pool.Acquire(DatasetNews, month)
		if err != nil {
			return nil, storageErr(month, "get-ratings", err)
		}

		conds := make(sq.Or, 0, len(byNorm))
		for norm := range byNorm {
			conds = append(conds, sq.And{
				sq.Eq{"platform_id": norm.PlatformID},
				sq.Eq{"normalized_title": norm.NormalizedTitle},
			})
		}
		query, args, err := sq.Select("platform_id", "normalized_title", "importance").
			From("items").
			Where(conds).
			Where(sq.NotEq{"importance": ""}).
			ToSql()
		if err != nil {
			return nil, storageErr(month, "get-ratings", err)
		}

		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, storageErr(month, "get-ratings", err)
		}
		for rows.Next() {
			var platform, norm, raw string
			if err := rows.Scan(&platform, &norm, &raw); err != nil {
				rows.Close()
				return nil, storageErr(month, "get-ratings", err)
			}
			value, ok := domain.ParseImportance(raw)
			if !ok {
				continue
			}
			for _, key := range byNorm[domain.ItemKey{PlatformID: platform, NormalizedTitle: norm}] {
				out[key] = value
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, storageErr(month, "get-ratings", err)
		}
		rows.Close()
	}
	return out, nil
}

// SetRating upserts one importance value. Repeated identical writes leave a
// single row; a later different value overwrites in place. This is the
// serialization point for concurrent importance runs.
func (e *Engine) SetRating(ctx context.Context, key domain.RatingKey, scope string, value domain.Importance) error {
	if _, ok := domain.ParseImportance(string(value)); !ok {
		return storageErr(scope, "set-rating", fmt.Errorf("rating %q outside vocabulary", value))
	}
	start, _, err := ParseScope(scope)
	if err != nil {
		return storageErr(scope, "set-rating", err)
	}

	month := monthOf(start)
	db, err := e.pool.Acquire(DatasetNews, month)
	if err != nil {
		return storageErr(month, "set-rating", err)
	}

	norm := domain.NormalizeTitle(key.Title)
	err = sqlitedb.RunTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO items (
				platform_id, normalized_title, title, current_rank, rank_history,
				first_seen_date, first_seen_time, last_seen_date, last_seen_time,
				observation_count, importance
			) VALUES (?, ?, ?, 0, '[]', ?, '00:00', ?, '00:00', 0, ?)
			ON CONFLICT (platform_id, normalized_title)
			DO UPDATE SET importance = excluded.importance`,
			key.PlatformID, norm, key.Title, start, start, string(value),
		)
		return err
	})
	if err != nil {
		return storageErr(month, "set-rating", err)
	}
	return nil
}

// PurgeBefore deletes whole partition files (with their WAL/SHM artifacts)
// strictly older than cutoff, for both datasets. Partitions are never
// partially deleted.
func (e *Engine) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	for _, ds := range [...]Dataset{DatasetNews, DatasetFeeds} {
		dir := filepath.Join(e.pool.dataDir, string(ds))
		files, err := filepath.Glob(filepath.Join(dir, "*.db"))
		if err != nil {
			return deleted, storageErr(string(ds), "purge", err)
		}
		for _, file := range files {
			if err := ctx.Err(); err != nil {
				return deleted, storageErr(string(ds), "purge", err)
			}
			month := filepath.Base(file)
			month = month[:len(month)-len(".db")]
			monthStart, err := time.Parse("2006-01", month)
			if err != nil {
				continue
			}
			// Keep the partition unless every instant of its month is
			// before the cutoff.
			if monthStart.AddDate(0, 1, 0).After(cutoff) {
				continue
			}
			if err := e.pool.Drop(ds, month); err != nil {
				return deleted, storageErr(month, "purge", err)
			}
			if err := os.Remove(file); err != nil {
				return deleted, storageErr(month, "purge", err)
			}
			for _, suffix := range [...]string{"-wal", "-shm"} {
				os.Remove(file + suffix)
			}
			deleted++
			e.logger.Info("purged partition", "dataset", string(ds), "month", month)
		}
	}
	return deleted, nil
}

// CrawlTimes lists the crawl times recorded for a day, oldest first.
func (e *Engine) CrawlTimes(ctx context.Context, date string) ([]string, error) {
	month := monthOf(date)
	if !e.pool.Exists(DatasetNews, month) {
		return nil, nil
	}
	db, err := e.pool.Acquire(DatasetNews, month)
	if err != nil {
		return nil, storageErr(month, "crawl-times", err)
	}
	rows, err := db.QueryContext(ctx,
		"SELECT crawl_time FROM crawls WHERE crawl_date = ? ORDER BY crawl_time", date)
	if err != nil {
		return nil, storageErr(month, "crawl-times", err)
	}
	defer rows.Close()

	var times []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, storageErr(month, "crawl-times", err)
		}
		times = append(times, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(month, "crawl-times", err)
	}
	return times, nil
}

// IsFirstCrawlToday reports whether no crawl has been recorded for the day.
func (e *Engine) IsFirstCrawlToday(ctx context.Context, date string) (bool, error) {
	times, err := e.CrawlTimes(ctx, date)
	if err != nil {
		return false, err
	}
	return len(times) == 0, nil
}

// HasPushedToday reports whether a push of the given type was recorded.
func (e *Engine) HasPushedToday(ctx context.Context, reportType, date string) (bool, error) {
	month := monthOf(date)
	if !e.pool.Exists(DatasetNews, month) {
		return false, nil
	}
	db, err := e.pool.Acquire(DatasetNews, month)
	if err != nil {
		return false, storageErr(month, "has-pushed", err)
	}
	var count int
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM push_records WHERE report_type = ? AND pushed_date = ?",
		reportType, date,
	).Scan(&count)
	if err != nil {
		return false, storageErr(month, "has-pushed", err)
	}
	return count > 0, nil
}

// RecordPush marks a completed notification fan-out for the day.
func (e *Engine) RecordPush(ctx context.Context, reportType, date string) error {
	month := monthOf(date)
	db, err := e.pool.Acquire(DatasetNews, month)
	if err != nil {
		return storageErr(month, "record-push", err)
	}
	err = sqlitedb.RunTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO push_records (report_type, pushed_date, pushed_at) VALUES (?, ?, ?)",
			reportType, date, time.Now().UTC().Format(time.RFC3339),
		)
		return err
	})
	if err != nil {
		return storageErr(month, "record-push", err)
	}
	return nil
}
