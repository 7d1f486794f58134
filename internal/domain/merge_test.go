package domain

import (
	"reflect"
	"testing"
)

func snap(date, crawlTime string, titles ...string) Snapshot {
	ref := CrawlRef{Date: date, Time: crawlTime}
	items := make([]Item, 0, len(titles))
	for i, title := range titles {
		items = append(items, NewItem(title, "p1", "https://e/"+title, "", i+1, ref))
	}
	return Snapshot{
		Date:          date,
		CrawlTime:     crawlTime,
		Items:         map[string][]Item{"p1": items},
		PlatformNames: map[string]string{"p1": "Platform One"},
	}
}

func TestNormalizeTitle(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"Hello, World!", "helloworld"},
		{"  Breaking:  NEWS  ", "breakingnews"},
		{"重大政策发布！", "重大政策发布"},
		{"A-B c_d", "abcd"},
	}
	for _, tc := range cases {
		if got := NormalizeTitle(tc.in); got != tc.want {
			t.Fatalf("NormalizeTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMergeSnapshotsKeepsOneEntryPerCrawl(t *testing.T) {
	t.Parallel()

	a := snap("2024-01-01", "08:00", "Topic A")
	b := snap("2024-01-01", "12:00", "Topic A")

	merged := MergeSnapshots(a, b)
	items := merged.Items["p1"]
	if len(items) != 1 {
		t.Fatalf("expected 1 merged item, got %d", len(items))
	}
	if len(items[0].RankHistory) != 2 {
		t.Fatalf("expected 2 rank records, got %d", len(items[0].RankHistory))
	}
	if items[0].ObservationCount != 2 {
		t.Fatalf("observation count = %d, want 2", items[0].ObservationCount)
	}
	if items[0].LastSeen.Time != "12:00" {
		t.Fatalf("last seen = %s, want 12:00", items[0].LastSeen.Time)
	}
}

func TestMergeSnapshotsIdempotent(t *testing.T) {
	t.Parallel()

	a := snap("2024-01-01", "08:00", "Topic A", "Topic B")
	b := snap("2024-01-01", "12:00", "Topic A")

	once := MergeSnapshots(a, b)
	twice := MergeSnapshots(once, b)

	if !reflect.DeepEqual(once.Items, twice.Items) {
		t.Fatalf("re-merging the same snapshot changed item state:\nonce:  %+v\ntwice: %+v",
			once.Items, twice.Items)
	}
	if got := twice.Items["p1"][0].ObservationCount; got != 2 {
		t.Fatalf("observation count after re-merge = %d, want 2", got)
	}
}

func TestMergeItemsTitleEditKeepsNewest(t *testing.T) {
	t.Parallel()

	old := NewItem("Big news!", "p1", "https://e/old", "", 3, CrawlRef{Date: "2024-01-01", Time: "08:00"})
	edited := NewItem("Big  News", "p1", "https://e/new", "", 1, CrawlRef{Date: "2024-01-01", Time: "12:00"})

	if old.NormalizedTitle != edited.NormalizedTitle {
		t.Fatalf("titles should share a dedup key: %q vs %q", old.NormalizedTitle, edited.NormalizedTitle)
	}

	merged := MergeItems(old, edited)
	if merged.Title != "Big  News" {
		t.Fatalf("title = %q, want the newer literal title", merged.Title)
	}
	if merged.URL != "https://e/new" {
		t.Fatalf("url = %q, want the newer url", merged.URL)
	}
	if merged.Rank != 1 {
		t.Fatalf("rank = %d, want latest observation's rank 1", merged.Rank)
	}
	if merged.FirstSeen.Time != "08:00" {
		t.Fatalf("first seen = %s, want the earliest crawl", merged.FirstSeen.Time)
	}
}

func TestMergeItemsArgumentOrderIrrelevant(t *testing.T) {
	t.Parallel()

	a := NewItem("Topic", "p1", "u1", "", 5, CrawlRef{Date: "2024-01-01", Time: "08:00"})
	b := NewItem("Topic", "p1", "u2", "", 2, CrawlRef{Date: "2024-01-01", Time: "12:00"})

	ab := MergeItems(a, b)
	ba := MergeItems(b, a)
	if !reflect.DeepEqual(ab, ba) {
		t.Fatalf("merge is not commutative:\nab: %+v\nba: %+v", ab, ba)
	}
}

func TestMergeSnapshotsUnionsFailures(t *testing.T) {
	t.Parallel()

	a := snap("2024-01-01", "08:00", "Topic A")
	a.FailedPlatformIDs = []string{"weibo"}
	b := snap("2024-01-01", "12:00", "Topic B")
	b.FailedPlatformIDs = []string{"zhihu", "weibo"}

	merged := MergeSnapshots(a, b)
	want := []string{"weibo", "zhihu"}
	if !reflect.DeepEqual(merged.FailedPlatformIDs, want) {
		t.Fatalf("failed ids = %v, want %v", merged.FailedPlatformIDs, want)
	}
}

func TestParseImportance(t *testing.T) {
	t.Parallel()

	if got, ok := ParseImportance(" Critical "); !ok || got != ImportanceCritical {
		t.Fatalf("ParseImportance(Critical) = %q, %v", got, ok)
	}
	if _, ok := ParseImportance("urgent"); ok {
		t.Fatal("ratings outside the vocabulary must be rejected")
	}
	if !ImportanceHigh.Notable() || ImportanceMedium.Notable() {
		t.Fatal("only critical/high are notable")
	}
}
