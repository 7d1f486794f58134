package ports

import (
	"context"
	"time"

	"github.com/starCarlos/HotSpot-Hunter/internal/domain"
)

// SnapshotSource produces one crawl cycle's ranked items across all
// configured platforms. Fetch mechanics are up to the implementation.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context, now time.Time) (domain.Snapshot, error)
}

// FeedSource pulls the secondary feed-style dataset.
type FeedSource interface {
	FetchFeeds(ctx context.Context, now time.Time) (domain.FeedData, error)
}

// Store is the time-partitioned storage engine surface. Scope arguments are
// a single day (YYYY-MM-DD) or a day range (YYYY-MM-DD~YYYY-MM-DD).
type Store interface {
	Save(ctx context.Context, snapshot domain.Snapshot) (domain.SaveResult, error)
	GetMerged(ctx context.Context, scope string) (domain.Snapshot, error)
	GetLatest(ctx context.Context, date string) (domain.Snapshot, error)
	DetectNew(ctx context.Context, snapshot domain.Snapshot) (map[string]map[string]domain.Item, error)
	GetRatings(ctx context.Context, keys []domain.RatingKey, scope string) (map[domain.RatingKey]domain.Importance, error)
	SetRating(ctx context.Context, key domain.RatingKey, scope string, value domain.Importance) error
	PurgeBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// FeedStore persists the feed dataset into its own monthly partitions.
type FeedStore interface {
	SaveFeedData(ctx context.Context, data domain.FeedData) (newCount, updatedCount int, err error)
	GetFeedData(ctx context.Context, date string) (domain.FeedData, error)
	GetLatestFeedData(ctx context.Context, date string) (domain.FeedData, error)
	DetectNewEntries(ctx context.Context, data domain.FeedData) (map[string][]domain.FeedEntry, error)
}

// ChatClient sends one prompt to the remote classification model and
// returns the raw text answer. Implementations own timeouts and retries.
type ChatClient interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

// NotificationSink fans an important-items alert out to its configured
// channels and reports a per-channel outcome. A failed channel never
// blocks the others.
type NotificationSink interface {
	SendImportant(ctx context.Context, items []domain.ImportantItem) map[string]bool
}

// PushRecorder marks a completed notification fan-out in the partition so
// later jobs can tell the day's report was already sent.
type PushRecorder interface {
	RecordPush(ctx context.Context, reportType, date string) error
}

// Scheduler controls when ingestion cycles execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
