// Package importance runs the background classification pipeline: newly
// observed items are batched into classifier prompts, parsed ratings are
// persisted once, and items rated in an earlier run are never re-sent.
package importance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starCarlos/HotSpot-Hunter/internal/config"
	"github.com/starCarlos/HotSpot-Hunter/internal/domain"
	"github.com/starCarlos/HotSpot-Hunter/internal/ports"
)

// Candidate is one unrated item handed to the analyzer.
type Candidate struct {
	Title        string
	PlatformID   string
	PlatformName string
	Rank         int
	URL          string
}

func (c Candidate) key() domain.RatingKey {
	return domain.RatingKey{Title: c.Title, PlatformID: c.PlatformID}
}

// Analyzer coordinates one classification run.
type Analyzer struct {
	client ports.ChatClient
	store  ports.Store
	cfg    config.ImportanceConfig
	logger *slog.Logger

	// test override; zero means configured delays apply
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds an analyzer over the shared store and chat client.
func New(client ports.ChatClient, store ports.Store, cfg config.ImportanceConfig, log *slog.Logger) *Analyzer {
	if log == nil {
		log = slog.Default()
	}
	return &Analyzer{
		client: client,
		store:  store,
		cfg:    cfg,
		logger: log,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Run classifies up to the configured cap of candidates and persists every
// rating it obtains. Already-rated candidates are skipped up front, so a
// run is at-most-once per item even across process restarts. The returned
// map holds only the ratings produced by this run.
func (a *Analyzer) Run(ctx context.Context, scope string, candidates []Candidate) (map[domain.RatingKey]domain.Importance, error) {
	results := make(map[domain.RatingKey]domain.Importance)
	if len(candidates) == 0 {
		return results, nil
	}

	pending, err := a.dropRated(ctx, scope, candidates)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		a.logger.Debug("all candidates already rated", "candidates", len(candidates))
		return results, nil
	}

	if limit := a.cfg.MaxPerRun; limit > 0 && len(pending) > limit {
		a.logger.Info("capping classification run", "pending", len(pending), "cap", limit)
		pending = pending[:limit]
	}

	batchSize := a.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}

	for start := 0; start < len(pending); start += batchSize {
		if start > 0 {
			if err := a.sleep(ctx, time.Duration(a.cfg.BatchDelaySeconds)*time.Second); err != nil {
				return results, err
			}
		}
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		rated, err := a.classifyBatch(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			a.logger.Warn("batch classification failed, falling back to single calls", "batch", len(batch), "err", err)
			rated = a.fallbackSingles(ctx, batch)
		}

		for _, cand := range batch {
			value, ok := rated[cand.key()]
			if !ok {
				continue
			}
			if err := a.store.SetRating(ctx, cand.key(), scope, value); err != nil {
				a.logger.Error("persist rating failed", "title", cand.Title, "err", err)
				continue
			}
			results[cand.key()] = value
		}
	}
	return results, nil
}

// dropRated removes candidates that already have a stored rating.
func (a *Analyzer) dropRated(ctx context.Context, scope string, candidates []Candidate) ([]Candidate, error) {
	keys := make([]domain.RatingKey, 0, len(candidates))
	for _, cand := range candidates {
		keys = append(keys, cand.key())
	}
	rated, err := a.store.GetRatings(ctx, keys, scope)
	if err != nil {
		return nil, fmt.Errorf("load existing ratings: %w", err)
	}

	pending := make([]Candidate, 0, len(candidates))
	for _, cand := range candidates {
		if _, ok := rated[cand.key()]; !ok {
			pending = append(pending, cand)
		}
	}
	return pending, nil
}

// classifyBatch sends one multi-item prompt. An unparseable answer is an
// error; the caller decides whether to fall back.
func (a *Analyzer) classifyBatch(ctx context.Context, batch []Candidate) (map[domain.RatingKey]domain.Importance, error) {
	answer, err := a.client.Chat(ctx, batchPrompt(batch))
	if err != nil {
		return nil, err
	}
	rated, err := parseBatchAnswer(answer, batch)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("batch classified", "batch", len(batch), "rated", len(rated))
	return rated, nil
}

// fallbackSingles rates each batch item with its own prompt, pausing
// between calls. Items whose single call also fails stay unrated and will
// be retried on a later run.
func (a *Analyzer) fallbackSingles(ctx context.Context, batch []Candidate) map[domain.RatingKey]domain.Importance {
	rated := make(map[domain.RatingKey]domain.Importance)
	for i, cand := range batch {
		if i > 0 {
			if err := a.sleep(ctx, time.Duration(a.cfg.FallbackDelaySeconds)*time.Second); err != nil {
				return rated
			}
		}
		answer, err := a.client.Chat(ctx, singlePrompt(cand))
		if err != nil {
			if ctx.Err() != nil {
				return rated
			}
			a.logger.Warn("single classification failed", "title", cand.Title, "err", err)
			continue
		}
		value, ok := parseSingleAnswer(answer)
		if !ok {
			a.logger.Warn("single classification unparseable", "title", cand.Title)
			continue
		}
		rated[cand.key()] = value
	}
	return rated
}

const ratingScale = `重要性评级标准：
- critical（关键）: 对国家、社会、经济有重大影响，涉及重大政策、突发事件、重大事故等
- high（重要）: 对行业、地区有重要影响，涉及重要政策变化、重大商业事件等
- medium（中等）: 有一定关注度，但影响范围有限
- low（一般）: 普通新闻，关注度较低`

func batchPrompt(batch []Candidate) string {
	var b strings.Builder
	b.WriteString(`请分析以下多条新闻的重要性，返回一个JSON对象，格式如下：
{
    "results": [
        {"title": "新闻标题1", "importance": "critical" | "high" | "medium" | "low"},
        {"title": "新闻标题2", "importance": "critical" | "high" | "medium" | "low"}
    ]
}

`)
	b.WriteString(ratingScale)
	b.WriteString("\n\n需要分析的新闻列表：\n")
	for i, cand := range batch {
		fmt.Fprintf(&b, "%d. 标题: %s\n   平台: %s\n   排名: %d\n", i+1, cand.Title, cand.PlatformName, cand.Rank)
	}
	b.WriteString("\n请为每条新闻分析重要性，返回完整的JSON对象，不要遗漏任何一条新闻。只返回JSON，不要其他内容。")
	return b.String()
}

func singlePrompt(cand Candidate) string {
	var b strings.Builder
	b.WriteString(`请分析以下新闻的重要性，只返回一个JSON对象，格式如下：
{
    "importance": "critical" | "high" | "medium" | "low"
}

`)
	b.WriteString(ratingScale)
	fmt.Fprintf(&b, "\n\n新闻信息：\n- 标题: %s\n- 平台: %s\n- 排名: %d\n", cand.Title, cand.PlatformName, cand.Rank)
	b.WriteString("\n请只返回JSON，不要其他内容。")
	return b.String()
}
