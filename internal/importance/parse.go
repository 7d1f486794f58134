package importance

import (
	"encoding/json"
	"strings"

	"github.com/starCarlos/HotSpot-Hunter/internal/domain"
)

// extractJSON strips a markdown code fence from a model answer. Answers
// come back as ```json ... ```, bare ``` ... ``` or plain JSON depending
// on the model.
func extractJSON(answer string) string {
	s := strings.TrimSpace(answer)
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
		return strings.TrimSpace(s)
	}
	if strings.Contains(s, "```") {
		parts := strings.SplitN(s, "```", 3)
		if len(parts) >= 2 {
			return strings.TrimSpace(parts[1])
		}
	}
	return s
}

type batchResult struct {
	Title      string `json:"title"`
	Importance string `json:"importance"`
}

// parseBatchAnswer accepts the two shapes models actually produce: the
// requested {"results": [...]} array and the flat {title: importance}
// map some models return instead. Titles are matched exactly; ratings
// outside the vocabulary are ignored.
func parseBatchAnswer(answer string, batch []Candidate) (map[domain.RatingKey]domain.Importance, error) {
	raw := extractJSON(answer)

	var envelope struct {
		Results []batchResult `json:"results"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err == nil && envelope.Results != nil {
		rated := make(map[domain.RatingKey]domain.Importance)
		for _, result := range envelope.Results {
			value, ok := domain.ParseImportance(strings.ToLower(result.Importance))
			if !ok {
				continue
			}
			for _, cand := range batch {
				if cand.Title == result.Title {
					rated[cand.key()] = value
					break
				}
			}
		}
		return rated, nil
	}

	var flat map[string]string
	if err := json.Unmarshal([]byte(raw), &flat); err != nil {
		return nil, &domain.MalformedResponseError{Snippet: snippet(answer), Err: err}
	}
	rated := make(map[domain.RatingKey]domain.Importance)
	for _, cand := range batch {
		rawValue, ok := flat[cand.Title]
		if !ok {
			continue
		}
		if value, ok := domain.ParseImportance(strings.ToLower(rawValue)); ok {
			rated[cand.key()] = value
		}
	}
	return rated, nil
}

// parseSingleAnswer reads the one-item {"importance": ...} shape.
func parseSingleAnswer(answer string) (domain.Importance, bool) {
	var body struct {
		Importance string `json:"importance"`
	}
	if err := json.Unmarshal([]byte(extractJSON(answer)), &body); err != nil {
		return "", false
	}
	return domain.ParseImportance(strings.ToLower(body.Importance))
}

func snippet(answer string) string {
	const limit = 200
	if len(answer) > limit {
		answer = answer[:limit]
	}
	return answer
}
