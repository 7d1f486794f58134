package domain

import "sort"

// MergeItems combines two observations of the same (platform, normalized
// title) identity. Rank histories are united and deduplicated by crawl
// identity, so merging the same crawl twice is a no-op. The more recently
// observed title and URLs win, which tracks source-side title edits.
func MergeItems(a, b Item) Item {
	if b.LastSeen.Before(a.LastSeen) {
		a, b = b, a
	}

	merged := b
	if a.FirstSeen.Before(b.FirstSeen) {
		merged.FirstSeen = a.FirstSeen
	}
	merged.RankHistory = mergeHistories(a.RankHistory, b.RankHistory)
	merged.ObservationCount = len(merged.RankHistory)

	// Current rank follows the latest observation.
	if n := len(merged.RankHistory); n > 0 {
		merged.Rank = merged.RankHistory[n-1].Rank
	}

	if merged.Importance == ImportanceUnset {
		merged.Importance = a.Importance
	}
	if merged.URL == "" {
		merged.URL = a.URL
	}
	if merged.MobileURL == "" {
		merged.MobileURL = a.MobileURL
	}
	return merged
}

func mergeHistories(a, b []RankRecord) []RankRecord {
	seen := make(map[string]int, len(a)+len(b))
	out := make([]RankRecord, 0, len(a)+len(b))
	for _, rec := range a {
		if _, ok := seen[rec.Ref().ID()]; ok {
			continue
		}
		seen[rec.Ref().ID()] = len(out)
		out = append(out, rec)
	}
	for _, rec := range b {
		if i, ok := seen[rec.Ref().ID()]; ok {
			out[i] = rec
			continue
		}
		seen[rec.Ref().ID()] = len(out)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref().Before(out[j].Ref()) })
	return out
}

// MergeSnapshots combines two snapshots of the same partition scope.
// The operation is pure: no storage or network access. The result's Date
// label is inherited from a; callers set the display range themselves.
func MergeSnapshots(a, b Snapshot) Snapshot {
	merged := Snapshot{
		Date:          a.Date,
		CrawlTime:     maxTime(a.CrawlTime, b.CrawlTime),
		Items:         make(map[string][]Item, len(a.Items)+len(b.Items)),
		PlatformNames: make(map[string]string, len(a.PlatformNames)+len(b.PlatformNames)),
	}

	for id, name := range a.PlatformNames {
		merged.PlatformNames[id] = name
	}
	for id, name := range b.PlatformNames {
		if name != "" {
			merged.PlatformNames[id] = name
		}
	}

	for _, platform := range unionPlatforms(a.Items, b.Items) {
		byKey := make(map[string]int)
		var list []Item
		for _, src := range [...][]Item{a.Items[platform], b.Items[platform]} {
			for _, it := range src {
				if i, ok := byKey[it.NormalizedTitle]; ok {
					list[i] = MergeItems(list[i], it)
					continue
				}
				byKey[it.NormalizedTitle] = len(list)
				list = append(list, it)
			}
		}
		sort.SliceStable(list, func(i, j int) bool { return list[i].Rank < list[j].Rank })
		merged.Items[platform] = list
	}

	merged.FailedPlatformIDs = unionStrings(a.FailedPlatformIDs, b.FailedPlatformIDs)
	return merged
}

func unionPlatforms(a, b map[string][]Item) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for id := range a {
		set[id] = struct{}{}
	}
	for id := range b {
		set[id] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func unionStrings(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		set[s] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func maxTime(a, b string) string {
	if a > b {
		return a
	}
	return b
}
