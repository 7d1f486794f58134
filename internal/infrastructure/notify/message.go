package notify

import (
	"fmt"
	"strings"

	"github.com/starCarlos/HotSpot-Hunter/internal/domain"
)

// renderImportant builds the markdown alert body shared by all channels.
// Items arrive pre-sorted by the pipeline.
func renderImportant(items []domain.ImportantItem) string {
	var b strings.Builder
	b.WriteString("🔥 重要热点提醒\n\n")
	for _, item := range items {
		marker := "⭐"
		if item.Importance == domain.ImportanceCritical {
			marker = "🚨"
		}
		platform := item.PlatformName
		if platform == "" {
			platform = item.PlatformID
		}
		if item.URL != "" {
			fmt.Fprintf(&b, "%s [%s](%s)\n", marker, item.Title, item.URL)
		} else {
			fmt.Fprintf(&b, "%s %s\n", marker, item.Title)
		}
		fmt.Fprintf(&b, "    %s · 第%d位 · %s\n", platform, item.Rank, item.Importance)
	}
	return b.String()
}
