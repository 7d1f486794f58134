package domain

import (
	"strings"
	"unicode"
)

// Importance is the closed rating vocabulary assigned by the remote classifier.
type Importance string

const (
	ImportanceUnset    Importance = ""
	ImportanceCritical Importance = "critical"
	ImportanceHigh     Importance = "high"
	ImportanceMedium   Importance = "medium"
	ImportanceLow      Importance = "low"
)

// ParseImportance maps a raw classifier answer onto the vocabulary.
// Anything outside the four levels is rejected.
func ParseImportance(raw string) (Importance, bool) {
	switch Importance(strings.ToLower(strings.TrimSpace(raw))) {
	case ImportanceCritical:
		return ImportanceCritical, true
	case ImportanceHigh:
		return ImportanceHigh, true
	case ImportanceMedium:
		return ImportanceMedium, true
	case ImportanceLow:
		return ImportanceLow, true
	}
	return ImportanceUnset, false
}

// Notable reports whether the rating sits in the top two severity tiers
// and should trigger a notification fan-out.
func (i Importance) Notable() bool {
	return i == ImportanceCritical || i == ImportanceHigh
}

// CrawlRef identifies one crawl cycle: the calendar day plus the HH:MM
// crawl time. Both parts are ISO-ordered strings, so lexicographic
// comparison matches chronological order.
type CrawlRef struct {
	Date string // YYYY-MM-DD
	Time string // HH:MM
}

// ID returns the crawl identity used to deduplicate repeated merges.
func (c CrawlRef) ID() string { return c.Date + " " + c.Time }

// Before reports whether c happened strictly before other.
func (c CrawlRef) Before(other CrawlRef) bool { return c.ID() < other.ID() }

// RankRecord is one observation of an item's rank at a given crawl.
type RankRecord struct {
	Date string `json:"date"`
	Time string `json:"time"`
	Rank int    `json:"rank"`
}

// Ref returns the crawl this observation belongs to.
func (r RankRecord) Ref() CrawlRef { return CrawlRef{Date: r.Date, Time: r.Time} }

// Item is one ranked entry observed on one platform. Within a storage
// partition, (PlatformID, NormalizedTitle) uniquely identifies it;
// re-observation extends RankHistory instead of creating a duplicate.
type Item struct {
	Title            string
	PlatformID       string
	NormalizedTitle  string
	Rank             int
	RankHistory      []RankRecord
	URL              string
	MobileURL        string
	FirstSeen        CrawlRef
	LastSeen         CrawlRef
	ObservationCount int
	Importance       Importance
}

// Key returns the dedup identity of the item inside its partition.
func (it Item) Key() ItemKey {
	return ItemKey{PlatformID: it.PlatformID, NormalizedTitle: it.NormalizedTitle}
}

// ItemKey is the (platform, normalized title) identity of an Item.
type ItemKey struct {
	PlatformID      string
	NormalizedTitle string
}

// RatingKey addresses a rating upsert: the literal title plus platform,
// the shape the classifier answers with.
type RatingKey struct {
	Title      string
	PlatformID string
}

// SaveResult summarizes the per-item deltas of one snapshot save.
type SaveResult struct {
	New          int
	Updated      int
	TitleChanged int
	Dropped      int
}

// Snapshot is one completed crawl cycle across all configured platforms.
type Snapshot struct {
	Date              string            // day label or "start~end" range label
	CrawlTime         string            // HH:MM
	Items             map[string][]Item // platform id -> items ordered by rank
	PlatformNames     map[string]string
	FailedPlatformIDs []string
}

// Ref returns the crawl identity of this snapshot.
func (s Snapshot) Ref() CrawlRef { return CrawlRef{Date: s.Date, Time: s.CrawlTime} }

// TotalItems counts items across all platforms.
func (s Snapshot) TotalItems() int {
	total := 0
	for _, list := range s.Items {
		total += len(list)
	}
	return total
}

// NormalizeTitle derives the dedup key: lower-cased with punctuation and
// whitespace stripped, keeping only letters and digits. Two titles that
// differ only in spacing or punctuation collapse onto the same key.
func NormalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NewItem builds an Item from a single observation.
func NewItem(title, platformID, url, mobileURL string, rank int, ref CrawlRef) Item {
	return Item{
		Title:            title,
		PlatformID:       platformID,
		NormalizedTitle:  NormalizeTitle(title),
		Rank:             rank,
		RankHistory:      []RankRecord{{Date: ref.Date, Time: ref.Time, Rank: rank}},
		URL:              url,
		MobileURL:        mobileURL,
		FirstSeen:        ref,
		LastSeen:         ref,
		ObservationCount: 1,
	}
}
