package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/starCarlos/HotSpot-Hunter/internal/domain"
	"github.com/starCarlos/HotSpot-Hunter/internal/scanner"
)

const userAgent = "HotSpotHunter/1.0"

// BoardScanner scrapes a ranked HTML board directly. Platform options:
//
//	url       page to fetch (required)
//	selector  CSS selector for ranked entry links (required)
//	limit     max entries to keep, 0 keeps all
type BoardScanner struct {
	client *http.Client
}

// NewBoardScanner wires an HTTP client; a nil client gets a 20s timeout.
func NewBoardScanner(client *http.Client) *BoardScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &BoardScanner{client: client}
}

// Name identifies the strategy inside the registry.
func (b *BoardScanner) Name() string {
	return "board"
}

// Scan fetches the board page and extracts ranked entries in page order.
func (b *BoardScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Item, error) {
	pageURL := req.Options["url"]
	selector := req.Options["selector"]
	if pageURL == "" || selector == "" {
		return nil, fmt.Errorf("platform %s: board scanner needs url and selector options", req.PlatformID)
	}
	limit := 0
	if raw := req.Options["limit"]; raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil {
			return nil, fmt.Errorf("platform %s: bad limit %q", req.PlatformID, raw)
		}
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("platform %s: %w", req.PlatformID, err)
	}

	doc, err := b.fetchDocument(ctx, req.PlatformID, pageURL)
	if err != nil {
		return nil, err
	}

	var items []domain.Item
	doc.Find(selector).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		title := strings.TrimSpace(sel.Text())
		if title == "" {
			return true
		}
		link := ""
		if href, ok := sel.Attr("href"); ok {
			if u, err := base.Parse(href); err == nil {
				link = u.String()
			}
		}
		items = append(items, domain.NewItem(title, req.PlatformID, link, "", len(items)+1, req.Ref))
		return limit == 0 || len(items) < limit
	})
	return items, nil
}

func (b *BoardScanner) fetchDocument(ctx context.Context, platformID, pageURL string) (*goquery.Document, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, &domain.TransientRemoteError{Op: "board " + platformID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.TransientRemoteError{
			Op:     "board " + platformID,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &domain.MalformedResponseError{Snippet: "board " + platformID, Err: err}
	}
	return doc, nil
}
