package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/starCarlos/HotSpot-Hunter/internal/domain"
	"github.com/starCarlos/HotSpot-Hunter/internal/filter"
	"github.com/starCarlos/HotSpot-Hunter/internal/importance"
	"github.com/starCarlos/HotSpot-Hunter/internal/monitoring"
	"github.com/starCarlos/HotSpot-Hunter/internal/ports"
)

// PipelineDeps wires all driven adapters into the ingestion pipeline.
// Analyzer, FeedSource, Sink, Filter and Metrics are optional; a nil value
// disables the corresponding stage.
type PipelineDeps struct {
	Source     ports.SnapshotSource
	Store      ports.Store
	FeedSource ports.FeedSource
	FeedStore  ports.FeedStore
	Analyzer   *importance.Analyzer
	Sink       ports.NotificationSink
	Pushes     ports.PushRecorder
	Filter     *filter.Filter
	Metrics    *monitoring.Metrics
	Logger     *slog.Logger
}

// Pipeline implements one ingestion cycle: fetch, filter, save, then hand
// fresh items to a background classification worker that notifies on
// top-tier ratings. The save path never waits on the classifier or the
// notification channels.
type Pipeline struct {
	source     ports.SnapshotSource
	store      ports.Store
	feedSource ports.FeedSource
	feedStore  ports.FeedStore
	analyzer   *importance.Analyzer
	sink       ports.NotificationSink
	pushes     ports.PushRecorder
	filter     *filter.Filter
	metrics    *monitoring.Metrics
	logger     *slog.Logger

	workers sync.WaitGroup
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		source:     deps.Source,
		store:      deps.Store,
		feedSource: deps.FeedSource,
		feedStore:  deps.FeedStore,
		analyzer:   deps.Analyzer,
		sink:       deps.Sink,
		pushes:     deps.Pushes,
		filter:     deps.Filter,
		metrics:    deps.Metrics,
		logger:     logger,
	}
}

// ProcessCycle runs one full ingestion cycle for the given wall-clock time.
func (p *Pipeline) ProcessCycle(ctx context.Context, now time.Time) error {
	if p.source == nil || p.store == nil {
		return nil
	}

	snap, err := p.source.FetchSnapshot(ctx, now)
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}
	p.applyFilter(&snap)

	// The new-item set must be computed against the pre-merge partition
	// state, before Save makes these keys known.
	fresh, err := p.store.DetectNew(ctx, snap)
	if err != nil {
		return fmt.Errorf("detect new: %w", err)
	}

	result, err := p.store.Save(ctx, snap)
	if err != nil {
		if p.metrics != nil {
			p.metrics.SaveErrorsTotal.Inc()
		}
		return fmt.Errorf("save snapshot: %w", err)
	}
	if p.metrics != nil {
		p.metrics.CrawlsTotal.Inc()
		p.metrics.ItemsSavedTotal.WithLabelValues("new").Add(float64(result.New))
		p.metrics.ItemsSavedTotal.WithLabelValues("updated").Add(float64(result.Updated))
		p.metrics.ItemsSavedTotal.WithLabelValues("title_changed").Add(float64(result.TitleChanged))
		p.metrics.ItemsSavedTotal.WithLabelValues("dropped").Add(float64(result.Dropped))
	}
	p.logger.Info("snapshot saved",
		"date", snap.Date, "time", snap.CrawlTime, "total", snap.TotalItems(),
		"new", result.New, "updated", result.Updated,
		"title_changed", result.TitleChanged, "dropped", result.Dropped,
		"failed_platforms", len(snap.FailedPlatformIDs))

	p.processFeeds(ctx, now)

	if result.New > 0 && p.analyzer != nil {
		p.spawnClassification(ctx, snap, fresh)
	}
	return nil
}

// applyFilter drops items that do not pass the keyword word groups.
func (p *Pipeline) applyFilter(snap *domain.Snapshot) {
	if p.filter == nil || p.filter.Empty() {
		return
	}
	dropped := 0
	for platform, items := range snap.Items {
		kept := items[:0]
		for _, item := range items {
			if p.filter.Match(item.Title) {
				kept = append(kept, item)
			} else {
				dropped++
			}
		}
		snap.Items[platform] = kept
	}
	if dropped > 0 {
		p.logger.Debug("keyword filter applied", "dropped", dropped)
	}
}

func (p *Pipeline) processFeeds(ctx context.Context, now time.Time) {
	if p.feedSource == nil || p.feedStore == nil {
		return
	}
	data, err := p.feedSource.FetchFeeds(ctx, now)
	if err != nil {
		p.logger.Warn("feed fetch failed", "err", err)
		return
	}
	newCount, updatedCount, err := p.feedStore.SaveFeedData(ctx, data)
	if err != nil {
		p.logger.Warn("feed save failed", "err", err)
		return
	}
	p.logger.Info("feeds saved", "entries", data.TotalEntries(), "new", newCount, "updated", updatedCount)
}

// spawnClassification rates the fresh items in the background and fans
// out an alert for top-tier ratings. The worker is tracked so shutdown
// can grant it a grace period.
func (p *Pipeline) spawnClassification(ctx context.Context, snap domain.Snapshot, fresh map[string]map[string]domain.Item) {
	candidates := freshCandidates(snap, fresh)
	if len(candidates) == 0 {
		return
	}
	scope := snap.Date

	// Detached from run cancellation: shutdown grants these workers a grace
	// period via Drain, which would be pointless if ctx aborted them first.
	ctx = context.WithoutCancel(ctx)

	p.workers.Add(1)
	go func() {
		defer p.workers.Done()

		rated, err := p.analyzer.Run(ctx, scope, candidates)
		if err != nil {
			p.logger.Warn("classification run failed", "err", err)
		}
		if p.metrics != nil {
			p.metrics.ClassifiedTotal.Add(float64(len(rated)))
			if failed := len(candidates) - len(rated); failed > 0 {
				p.metrics.ClassifierFailures.Add(float64(failed))
			}
		}
		if len(rated) == 0 {
			return
		}

		p.notifyImportant(ctx, snap, candidates, rated)
	}()
}

func (p *Pipeline) notifyImportant(ctx context.Context, snap domain.Snapshot, candidates []importance.Candidate, rated map[domain.RatingKey]domain.Importance) {
	if p.sink == nil {
		return
	}

	var important []domain.ImportantItem
	for _, cand := range candidates {
		value, ok := rated[domain.RatingKey{Title: cand.Title, PlatformID: cand.PlatformID}]
		if !ok || !value.Notable() {
			continue
		}
		important = append(important, domain.ImportantItem{
			Title:        cand.Title,
			PlatformID:   cand.PlatformID,
			PlatformName: snap.PlatformNames[cand.PlatformID],
			Rank:         cand.Rank,
			Importance:   value,
			URL:          cand.URL,
		})
	}
	if len(important) == 0 {
		return
	}
	sort.SliceStable(important, func(i, j int) bool {
		if important[i].Importance != important[j].Importance {
			return important[i].Importance == domain.ImportanceCritical
		}
		return important[i].Rank < important[j].Rank
	})

	results := p.sink.SendImportant(ctx, important)
	delivered := 0
	for channel, ok := range results {
		if p.metrics != nil {
			outcome := "failed"
			if ok {
				outcome = "ok"
			}
			p.metrics.NotificationsSent.WithLabelValues(channel, outcome).Inc()
		}
		if ok {
			delivered++
		}
	}
	p.logger.Info("important items pushed",
		"items", len(important), "channels", len(results), "delivered", delivered)

	if delivered > 0 && p.pushes != nil {
		if err := p.pushes.RecordPush(ctx, "important", snap.Date); err != nil {
			p.logger.Warn("push record failed", "err", err)
		}
	}
}

// freshCandidates flattens the pre-merge new-item set in rank order.
func freshCandidates(snap domain.Snapshot, fresh map[string]map[string]domain.Item) []importance.Candidate {
	var out []importance.Candidate
	platforms := make([]string, 0, len(fresh))
	for platform := range fresh {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)

	for _, platform := range platforms {
		items := make([]domain.Item, 0, len(fresh[platform]))
		for _, item := range fresh[platform] {
			items = append(items, item)
		}
		sort.SliceStable(items, func(i, j int) bool { return items[i].Rank < items[j].Rank })
		for _, item := range items {
			out = append(out, importance.Candidate{
				Title:        item.Title,
				PlatformID:   platform,
				PlatformName: snap.PlatformNames[platform],
				Rank:         item.Rank,
				URL:          item.URL,
			})
		}
	}
	return out
}

// Drain waits for in-flight background workers, up to the grace period.
func (p *Pipeline) Drain(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}
