package domain

// FeedEntry is one article pulled from a subscribed feed. Key is the guid
// when the feed provides one, the link otherwise; (FeedID, Key) identifies
// an entry inside a feed partition.
type FeedEntry struct {
	FeedID    string
	Key       string
	Title     string
	URL       string
	Published string // RFC3339 when the feed provided a timestamp
	Summary   string
}

// FeedData is one fetch cycle across all subscribed feeds, the secondary
// feed-style dataset stored next to the primary item dataset.
type FeedData struct {
	Date      string // YYYY-MM-DD
	CrawlTime string // HH:MM
	Entries   map[string][]FeedEntry // feed id -> entries in feed order
	FeedNames map[string]string
}

// TotalEntries counts entries across all feeds.
func (d FeedData) TotalEntries() int {
	total := 0
	for _, list := range d.Entries {
		total += len(list)
	}
	return total
}

// ImportantItem is one record handed to the notification sink after the
// importance pipeline found a top-tier rating.
type ImportantItem struct {
	Title        string
	PlatformID   string
	PlatformName string
	Rank         int
	Importance   Importance
	URL          string
}
