package storage

import (
	"context"
	"testing"

	"github.com/starCarlos/HotSpot-Hunter/internal/domain"
)

func testFeedData(date, fetchTime string, keys ...string) domain.FeedData {
	entries := make([]domain.FeedEntry, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, domain.FeedEntry{
			FeedID: "hn",
			Key:    key,
			Title:  "Post " + key,
			URL:    "https://example.com/" + key,
		})
	}
	return domain.FeedData{
		Date:      date,
		CrawlTime: fetchTime,
		Entries:   map[string][]domain.FeedEntry{"hn": entries},
		FeedNames: map[string]string{"hn": "Hacker News"},
	}
}

func TestSaveFeedDataCountsNewEntries(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	newCount, updatedCount, err := e.Feeds().SaveFeedData(context.Background(), testFeedData("2024-03-05", "10:00", "a", "b"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if newCount != 2 || updatedCount != 0 {
		t.Fatalf("counts = (%d, %d), want (2, 0)", newCount, updatedCount)
	}
}

func TestSaveFeedDataIsIdempotentPerFetchIdentity(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()
	data := testFeedData("2024-03-05", "10:00", "a")

	if _, _, err := e.Feeds().SaveFeedData(ctx, data); err != nil {
		t.Fatalf("first save: %v", err)
	}
	newCount, updatedCount, err := e.Feeds().SaveFeedData(ctx, data)
	if err != nil {
		t.Fatalf("replayed save: %v", err)
	}
	if newCount != 0 || updatedCount != 0 {
		t.Fatalf("replayed save changed state: (%d, %d)", newCount, updatedCount)
	}
}

func TestSaveFeedDataUpdatesChangedEntries(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	if _, _, err := e.Feeds().SaveFeedData(ctx, testFeedData("2024-03-05", "10:00", "a")); err != nil {
		t.Fatalf("first save: %v", err)
	}

	changed := testFeedData("2024-03-05", "13:00", "a")
	changed.Entries["hn"][0].Title = "Post a (edited)"
	newCount, updatedCount, err := e.Feeds().SaveFeedData(ctx, changed)
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if newCount != 0 || updatedCount != 1 {
		t.Fatalf("counts = (%d, %d), want (0, 1)", newCount, updatedCount)
	}

	got, err := e.Feeds().GetFeedData(ctx, "2024-03-05")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Entries["hn"][0].Title != "Post a (edited)" {
		t.Fatalf("title = %q", got.Entries["hn"][0].Title)
	}
}

func TestGetLatestFeedDataScopesToLastFetch(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	if _, _, err := e.Feeds().SaveFeedData(ctx, testFeedData("2024-03-05", "10:00", "morning", "all-day")); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if _, _, err := e.Feeds().SaveFeedData(ctx, testFeedData("2024-03-05", "13:00", "all-day")); err != nil {
		t.Fatalf("second save: %v", err)
	}

	latest, err := e.Feeds().GetLatestFeedData(ctx, "2024-03-05")
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if latest.CrawlTime != "13:00" {
		t.Fatalf("fetch time = %q", latest.CrawlTime)
	}
	if n := len(latest.Entries["hn"]); n != 1 {
		t.Fatalf("latest entries = %d, want 1", n)
	}

	all, err := e.Feeds().GetFeedData(ctx, "2024-03-05")
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if n := len(all.Entries["hn"]); n != 2 {
		t.Fatalf("day entries = %d, want 2", n)
	}
}

func TestDetectNewEntries(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	fresh, err := e.Feeds().DetectNewEntries(ctx, testFeedData("2024-03-05", "10:00", "a"))
	if err != nil {
		t.Fatalf("detect against empty partition: %v", err)
	}
	if len(fresh["hn"]) != 1 {
		t.Fatalf("fresh = %v", fresh)
	}

	if _, _, err := e.Feeds().SaveFeedData(ctx, testFeedData("2024-03-05", "10:00", "a")); err != nil {
		t.Fatalf("save: %v", err)
	}
	fresh, err = e.Feeds().DetectNewEntries(ctx, testFeedData("2024-03-05", "13:00", "a", "b"))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(fresh["hn"]) != 1 || fresh["hn"][0].Key != "b" {
		t.Fatalf("fresh = %v, want only key b", fresh)
	}
}

func TestFeedDataOnEmptyDay(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	got, err := e.Feeds().GetFeedData(context.Background(), "2024-03-05")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TotalEntries() != 0 {
		t.Fatalf("want empty day, got %d entries", got.TotalEntries())
	}
}
