package fetcher

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/starCarlos/HotSpot-Hunter/internal/config"
	"github.com/starCarlos/HotSpot-Hunter/internal/domain"
	"github.com/starCarlos/HotSpot-Hunter/internal/ports"
)

// FeedFetcher pulls subscribed RSS 2.0 and Atom feeds into the feed dataset.
type FeedFetcher struct {
	client *http.Client
	feeds  []config.FeedConfig
	logger *slog.Logger
}

var _ ports.FeedSource = (*FeedFetcher)(nil)

// NewFeedFetcher wires an HTTP client; a nil client gets a 20s timeout.
func NewFeedFetcher(client *http.Client, feeds []config.FeedConfig, log *slog.Logger) *FeedFetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &FeedFetcher{client: client, feeds: feeds, logger: log}
}

// FetchFeeds runs one fetch cycle across all subscribed feeds. A failing
// feed is logged and skipped.
func (f *FeedFetcher) FetchFeeds(ctx context.Context, now time.Time) (domain.FeedData, error) {
	data := domain.FeedData{
		Date:      now.Format("2006-01-02"),
		CrawlTime: now.Format("15:04"),
		Entries:   make(map[string][]domain.FeedEntry),
		FeedNames: make(map[string]string),
	}

	for _, feed := range f.feeds {
		data.FeedNames[feed.ID] = feed.Name

		entries, err := f.fetchOne(ctx, feed)
		if err != nil {
			f.logger.Warn("feed fetch failed", "feed", feed.ID, "err", err)
			continue
		}
		data.Entries[feed.ID] = entries
	}
	return data, nil
}

func (f *FeedFetcher) fetchOne(ctx context.Context, feed config.FeedConfig) ([]domain.FeedEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &domain.TransientRemoteError{Op: "feed " + feed.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.TransientRemoteError{
			Op:     "feed " + feed.ID,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var doc feedDocument
	if err := xml.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, &domain.MalformedResponseError{Snippet: "feed " + feed.ID, Err: err}
	}
	return doc.entries(feed.ID), nil
}

// feedDocument accepts both <rss><channel><item> and <feed><entry> roots.
type feedDocument struct {
	XMLName xml.Name
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
	Entries []atomEntry `xml:"entry"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	PubDate     string `xml:"pubDate"`
	Description string `xml:"description"`
}

type atomEntry struct {
	Title   string `xml:"title"`
	ID      string `xml:"id"`
	Updated string `xml:"updated"`
	Summary string `xml:"summary"`
	Links   []struct {
		Rel  string `xml:"rel,attr"`
		Href string `xml:"href,attr"`
	} `xml:"link"`
}

func (d feedDocument) entries(feedID string) []domain.FeedEntry {
	var out []domain.FeedEntry
	for _, item := range d.Channel.Items {
		key := item.GUID
		if key == "" {
			key = item.Link
		}
		if key == "" {
			continue
		}
		out = append(out, domain.FeedEntry{
			FeedID:    feedID,
			Key:       key,
			Title:     strings.TrimSpace(item.Title),
			URL:       item.Link,
			Published: normalizeFeedTime(item.PubDate),
			Summary:   strings.TrimSpace(item.Description),
		})
	}
	for _, entry := range d.Entries {
		link := ""
		for _, l := range entry.Links {
			if l.Rel == "" || l.Rel == "alternate" {
				link = l.Href
				break
			}
		}
		key := entry.ID
		if key == "" {
			key = link
		}
		if key == "" {
			continue
		}
		out = append(out, domain.FeedEntry{
			FeedID:    feedID,
			Key:       key,
			Title:     strings.TrimSpace(entry.Title),
			URL:       link,
			Published: normalizeFeedTime(entry.Updated),
			Summary:   strings.TrimSpace(entry.Summary),
		})
	}
	return out
}

var feedTimeLayouts = [...]string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
}

// normalizeFeedTime converts feed timestamps to RFC3339, or returns an
// empty string when the feed date is absent or unparseable.
func normalizeFeedTime(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, layout := range feedTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return ""
}
