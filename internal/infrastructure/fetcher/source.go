package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/starCarlos/HotSpot-Hunter/internal/config"
	"github.com/starCarlos/HotSpot-Hunter/internal/domain"
	"github.com/starCarlos/HotSpot-Hunter/internal/ports"
	"github.com/starCarlos/HotSpot-Hunter/internal/scanner"
)

// Source implements SnapshotSource via registered scanner strategies. One
// platform failing is recorded in the snapshot, not fatal; the crawl only
// errors when every platform failed.
type Source struct {
	registry  *scanner.Registry
	platforms []config.PlatformConfig
	limiter   *rate.Limiter
	logger    *slog.Logger
}

var _ ports.SnapshotSource = (*Source)(nil)

// NewSource wires the scanner registry with config-defined platforms.
// requestIntervalMS spaces consecutive platform requests.
func NewSource(reg *scanner.Registry, platforms []config.PlatformConfig, requestIntervalMS int, log *slog.Logger) *Source {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestIntervalMS > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Duration(requestIntervalMS)*time.Millisecond), 1)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Source{
		registry:  reg,
		platforms: platforms,
		limiter:   limiter,
		logger:    log,
	}
}

// FetchSnapshot runs one crawl cycle across all configured platforms.
func (s *Source) FetchSnapshot(ctx context.Context, now time.Time) (domain.Snapshot, error) {
	if s.registry == nil {
		return domain.Snapshot{}, fmt.Errorf("scanner registry is not configured")
	}

	snap := domain.Snapshot{
		Date:          now.Format("2006-01-02"),
		CrawlTime:     now.Format("15:04"),
		Items:         make(map[string][]domain.Item),
		PlatformNames: make(map[string]string),
	}
	ref := snap.Ref()

	s.logger.Debug("fetch snapshot", "platforms", len(s.platforms), "date", snap.Date, "time", snap.CrawlTime)

	for _, platform := range s.platforms {
		if err := s.limiter.Wait(ctx); err != nil {
			return domain.Snapshot{}, err
		}

		name := platform.Scanner
		if name == "" {
			name = "newsnow"
		}
		strategy, err := s.registry.Resolve(name)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("platform %s: %w", platform.ID, err)
		}

		items, err := strategy.Scan(ctx, scanner.Request{
			PlatformID:   platform.ID,
			PlatformName: platform.Name,
			Ref:          ref,
			Options:      platform.Options,
		})
		snap.PlatformNames[platform.ID] = platform.Name
		if err != nil {
			s.logger.Warn("platform fetch failed", "platform", platform.ID, "err", err)
			snap.FailedPlatformIDs = append(snap.FailedPlatformIDs, platform.ID)
			continue
		}

		s.logger.Debug("platform fetched", "platform", platform.ID, "items", len(items))
		snap.Items[platform.ID] = items
	}

	if len(s.platforms) > 0 && len(snap.FailedPlatformIDs) == len(s.platforms) {
		return domain.Snapshot{}, fmt.Errorf("all %d platforms failed", len(s.platforms))
	}
	return snap, nil
}
