package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/starCarlos/HotSpot-Hunter/internal/domain"
	"github.com/starCarlos/HotSpot-Hunter/internal/scanner"
)

// NewsNowScanner pulls one platform's ranked board from a NewsNow-style
// aggregation API: GET {base}?id={platform}&latest.
type NewsNowScanner struct {
	client  *http.Client
	baseURL string
}

// NewNewsNowScanner wires an HTTP client; a nil client gets a 20s timeout.
func NewNewsNowScanner(client *http.Client, baseURL string) *NewsNowScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &NewsNowScanner{client: client, baseURL: baseURL}
}

// Name identifies the strategy inside the registry.
func (n *NewsNowScanner) Name() string {
	return "newsnow"
}

type newsNowItem struct {
	ID        json.RawMessage `json:"id"`
	Title     string          `json:"title"`
	URL       string          `json:"url"`
	MobileURL string          `json:"mobileUrl"`
}

type newsNowResponse struct {
	Status string        `json:"status"`
	Items  []newsNowItem `json:"items"`
}

// Scan fetches the platform board and converts it to ranked items.
func (n *NewsNowScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Item, error) {
	u, err := url.Parse(n.baseURL)
	if err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}
	q := u.Query()
	q.Set("id", req.PlatformID)
	q.Set("latest", "")
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return nil, &domain.TransientRemoteError{Op: "newsnow " + req.PlatformID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.TransientRemoteError{
			Op:     "newsnow " + req.PlatformID,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var body newsNowResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &domain.MalformedResponseError{Snippet: "newsnow " + req.PlatformID, Err: err}
	}
	if body.Status != "success" && body.Status != "cache" {
		return nil, fmt.Errorf("newsnow %s: status %q", req.PlatformID, body.Status)
	}

	items := make([]domain.Item, 0, len(body.Items))
	for i, raw := range body.Items {
		if raw.Title == "" {
			continue
		}
		item := domain.NewItem(raw.Title, req.PlatformID, raw.URL, raw.MobileURL, i+1, req.Ref)
		items = append(items, item)
	}
	return items, nil
}
