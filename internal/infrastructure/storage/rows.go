package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"

	"github.com/starCarlos/HotSpot-Hunter/internal/domain"
)

var itemColumns = []string{
	"platform_id", "normalized_title", "title", "url", "mobile_url",
	"current_rank", "rank_history",
	"first_seen_date", "first_seen_time", "last_seen_date", "last_seen_time",
	"observation_count", "importance",
}

func emptySnapshot(label string) domain.Snapshot {
	return domain.Snapshot{
		Date:          label,
		Items:         make(map[string][]domain.Item),
		PlatformNames: make(map[string]string),
	}
}

func sortedPlatforms(items map[string][]domain.Item) []string {
	out := make([]string, 0, len(items))
	for id := range items {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// dedupeIncoming normalizes raw snapshot items and collapses duplicates
// that share a dedup key within the same crawl, so a single snapshot can
// never double-count an observation.
func dedupeIncoming(raw []domain.Item, platform string, ref domain.CrawlRef) []domain.Item {
	byKey := make(map[string]int, len(raw))
	out := make([]domain.Item, 0, len(raw))
	for _, it := range raw {
		if it.PlatformID == "" {
			it.PlatformID = platform
		}
		if it.NormalizedTitle == "" {
			it.NormalizedTitle = domain.NormalizeTitle(it.Title)
		}
		if len(it.RankHistory) == 0 {
			it.RankHistory = []domain.RankRecord{{Date: ref.Date, Time: ref.Time, Rank: it.Rank}}
		}
		if it.FirstSeen == (domain.CrawlRef{}) {
			it.FirstSeen = ref
		}
		if it.LastSeen == (domain.CrawlRef{}) {
			it.LastSeen = ref
		}
		if it.ObservationCount == 0 {
			it.ObservationCount = len(it.RankHistory)
		}
		if i, ok := byKey[it.NormalizedTitle]; ok {
			out[i] = domain.MergeItems(out[i], it)
			continue
		}
		byKey[it.NormalizedTitle] = len(out)
		out = append(out, it)
	}
	return out
}

func indexByKey(items []domain.Item) map[string]domain.Item {
	out := make(map[string]domain.Item, len(items))
	for _, it := range items {
		out[it.NormalizedTitle] = it
	}
	return out
}

func itemChanged(a, b domain.Item) bool {
	return a.Title != b.Title ||
		a.URL != b.URL ||
		a.MobileURL != b.MobileURL ||
		a.Rank != b.Rank ||
		a.LastSeen != b.LastSeen ||
		a.ObservationCount != b.ObservationCount ||
		a.Importance != b.Importance ||
		len(a.RankHistory) != len(b.RankHistory)
}

func priorCrawl(ctx context.Context, tx *sql.Tx, date string) (domain.CrawlRef, bool, error) {
	var ref domain.CrawlRef
	err := tx.QueryRowContext(ctx,
		"SELECT crawl_date, crawl_time FROM crawls WHERE crawl_date = ? ORDER BY crawl_time DESC LIMIT 1",
		date,
	).Scan(&ref.Date, &ref.Time)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CrawlRef{}, false, nil
	}
	if err != nil {
		return domain.CrawlRef{}, false, err
	}
	return ref, true, nil
}

func insertCrawl(ctx context.Context, tx *sql.Tx, snap domain.Snapshot) (int64, error) {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO crawls (crawl_date, crawl_time) VALUES (?, ?)",
		snap.Date, snap.CrawlTime,
	)
	if err != nil {
		return 0, fmt.Errorf("insert crawl: %w", err)
	}
	return res.LastInsertId()
}

func recordFailures(ctx context.Context, tx *sql.Tx, crawlID int64, failed []string) error {
	for _, platform := range failed {
		_, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO failed_platforms (crawl_id, platform_id) VALUES (?, ?)",
			crawlID, platform,
		)
		if err != nil {
			return fmt.Errorf("record failure %s: %w", platform, err)
		}
	}
	return nil
}

func upsertPlatformNames(ctx context.Context, tx *sql.Tx, names map[string]string) error {
	ids := make([]string, 0, len(names))
	for id := range names {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO platforms (platform_id, name) VALUES (?, ?)
			ON CONFLICT (platform_id) DO UPDATE SET name = excluded.name
			WHERE excluded.name <> ''`,
			id, names[id],
		)
		if err != nil {
			return fmt.Errorf("upsert platform %s: %w", id, err)
		}
	}
	return nil
}

type rowQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadPlatformItems(ctx context.Context, q rowQuerier, platform string) (map[string]domain.Item, error) {
	query, args, err := sq.Select(itemColumns...).
		From("items").
		Where(sq.Eq{"platform_id": platform}).
		ToSql()
	if err != nil {
		return nil, err
	}
	items, err := queryItems(ctx, q, query, args)
	if err != nil {
		return nil, err
	}
	return indexByKey(items), nil
}

func itemsInWindow(ctx context.Context, q rowQuerier, start, end string) ([]domain.Item, error) {
	query, args, err := sq.Select(itemColumns...).
		From("items").
		Where(sq.GtOrEq{"last_seen_date": start}).
		Where(sq.LtOrEq{"first_seen_date": end}).
		Where(sq.Gt{"observation_count": 0}).
		ToSql()
	if err != nil {
		return nil, err
	}
	return queryItems(ctx, q, query, args)
}

func queryItems(ctx context.Context, q rowQuerier, query string, args []any) ([]domain.Item, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		var it domain.Item
		var history, importance string
		err := rows.Scan(
			&it.PlatformID, &it.NormalizedTitle, &it.Title, &it.URL, &it.MobileURL,
			&it.Rank, &history,
			&it.FirstSeen.Date, &it.FirstSeen.Time, &it.LastSeen.Date, &it.LastSeen.Time,
			&it.ObservationCount, &importance,
		)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if err := json.Unmarshal([]byte(history), &it.RankHistory); err != nil {
			return nil, fmt.Errorf("decode rank history for %s/%s: %w", it.PlatformID, it.NormalizedTitle, err)
		}
		it.Importance, _ = domain.ParseImportance(importance)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func knownKeys(ctx context.Context, q rowQuerier, platform string) (map[string]bool, error) {
	query, args, err := sq.Select("normalized_title").
		From("items").
		Where(sq.Eq{"platform_id": platform}).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	known := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		known[key] = true
	}
	return known, rows.Err()
}

func insertItem(ctx context.Context, tx *sql.Tx, it domain.Item) error {
	history, err := json.Marshal(it.RankHistory)
	if err != nil {
		return fmt.Errorf("encode rank history: %w", err)
	}
	query, args, err := sq.Insert("items").
		Columns(itemColumns...).
		Values(
			it.PlatformID, it.NormalizedTitle, it.Title, it.URL, it.MobileURL,
			it.Rank, string(history),
			it.FirstSeen.Date, it.FirstSeen.Time, it.LastSeen.Date, it.LastSeen.Time,
			it.ObservationCount, string(it.Importance),
		).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert item %s/%s: %w", it.PlatformID, it.NormalizedTitle, err)
	}
	return nil
}

func updateItem(ctx context.Context, tx *sql.Tx, it domain.Item) error {
	history, err := json.Marshal(it.RankHistory)
	if err != nil {
		return fmt.Errorf("encode rank history: %w", err)
	}
	query, args, err := sq.Update("items").
		Set("title", it.Title).
		Set("url", it.URL).
		Set("mobile_url", it.MobileURL).
		Set("current_rank", it.Rank).
		Set("rank_history", string(history)).
		Set("first_seen_date", it.FirstSeen.Date).
		Set("first_seen_time", it.FirstSeen.Time).
		Set("last_seen_date", it.LastSeen.Date).
		Set("last_seen_time", it.LastSeen.Time).
		Set("observation_count", it.ObservationCount).
		Set("importance", string(it.Importance)).
		Where(sq.Eq{"platform_id": it.PlatformID, "normalized_title": it.NormalizedTitle}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update item %s/%s: %w", it.PlatformID, it.NormalizedTitle, err)
	}
	return nil
}

// crawlWindow reports the (date, time) of the chronologically last crawl in
// the window. Comparing times alone would let an earlier day's late crawl
// shadow a later day's morning crawl.
func crawlWindow(ctx context.Context, db *sql.DB, start, end string) (latestDate, latestTime string, failed []string, err error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, crawl_date, crawl_time FROM crawls WHERE crawl_date >= ? AND crawl_date <= ?",
		start, end,
	)
	if err != nil {
		return "", "", nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		var d, t string
		if err := rows.Scan(&id, &d, &t); err != nil {
			rows.Close()
			return "", "", nil, err
		}
		ids = append(ids, id)
		if d > latestDate || (d == latestDate && t > latestTime) {
			latestDate, latestTime = d, t
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return "", "", nil, err
	}
	rows.Close()

	if len(ids) == 0 {
		return "", "", nil, nil
	}

	query, args, err := sq.Select("DISTINCT platform_id").
		From("failed_platforms").
		Where(sq.Eq{"crawl_id": ids}).
		ToSql()
	if err != nil {
		return "", "", nil, err
	}
	frows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return "", "", nil, err
	}
	defer frows.Close()
	for frows.Next() {
		var id string
		if err := frows.Scan(&id); err != nil {
			return "", "", nil, err
		}
		failed = append(failed, id)
	}
	return latestDate, latestTime, failed, frows.Err()
}

func failuresForCrawl(ctx context.Context, db *sql.DB, crawlID int64) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT platform_id FROM failed_platforms WHERE crawl_id = ? ORDER BY platform_id", crawlID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var failed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		failed = append(failed, id)
	}
	return failed, rows.Err()
}

func mergeNames(ctx context.Context, db *sql.DB, into map[string]string) error {
	rows, err := db.QueryContext(ctx, "SELECT platform_id, name FROM platforms")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return err
		}
		if name != "" || into[id] == "" {
			into[id] = name
		}
	}
	return rows.Err()
}

// scopeItem restricts an item view to the observations inside [start, end].
// Items with no observation in the window are excluded.
func scopeItem(it domain.Item, start, end string) (domain.Item, bool) {
	var window []domain.RankRecord
	for _, rec := range it.RankHistory {
		if rec.Date >= start && rec.Date <= end {
			window = append(window, rec)
		}
	}
	if len(window) == 0 {
		return domain.Item{}, false
	}
	view := it
	view.RankHistory = window
	view.ObservationCount = len(window)
	view.FirstSeen = window[0].Ref()
	view.LastSeen = window[len(window)-1].Ref()
	view.Rank = window[len(window)-1].Rank
	return view, true
}

func recordAt(it domain.Item, ref domain.CrawlRef) (domain.RankRecord, bool) {
	for _, rec := range it.RankHistory {
		if rec.Ref() == ref {
			return rec, true
		}
	}
	return domain.RankRecord{}, false
}
