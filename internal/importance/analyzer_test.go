package importance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starCarlos/HotSpot-Hunter/internal/config"
	"github.com/starCarlos/HotSpot-Hunter/internal/domain"
)

type scriptedClient struct {
	mu      sync.Mutex
	answers []string
	errs    []error
	prompts []string
}

func (c *scriptedClient) Chat(_ context.Context, prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, prompt)
	i := len(c.prompts) - 1
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	answer := ""
	if i < len(c.answers) {
		answer = c.answers[i]
	}
	return answer, err
}

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

// ratingStore implements the two Store operations the analyzer touches.
type ratingStore struct {
	mu      sync.Mutex
	ratings map[domain.RatingKey]domain.Importance
	setErr  error
}

func newRatingStore() *ratingStore {
	return &ratingStore{ratings: make(map[domain.RatingKey]domain.Importance)}
}

func (s *ratingStore) GetRatings(_ context.Context, keys []domain.RatingKey, _ string) (map[domain.RatingKey]domain.Importance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.RatingKey]domain.Importance)
	for _, key := range keys {
		if value, ok := s.ratings[key]; ok {
			out[key] = value
		}
	}
	return out, nil
}

func (s *ratingStore) SetRating(_ context.Context, key domain.RatingKey, _ string, value domain.Importance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.ratings[key] = value
	return nil
}

func (s *ratingStore) Save(context.Context, domain.Snapshot) (domain.SaveResult, error) {
	return domain.SaveResult{}, nil
}
func (s *ratingStore) GetMerged(context.Context, string) (domain.Snapshot, error) {
	return domain.Snapshot{}, nil
}
func (s *ratingStore) GetLatest(context.Context, string) (domain.Snapshot, error) {
	return domain.Snapshot{}, nil
}
func (s *ratingStore) DetectNew(context.Context, domain.Snapshot) (map[string]map[string]domain.Item, error) {
	return nil, nil
}
func (s *ratingStore) PurgeBefore(context.Context, time.Time) (int, error) { return 0, nil }

func testAnalyzer(client *scriptedClient, store *ratingStore, cfg config.ImportanceConfig) *Analyzer {
	a := New(client, store, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.sleep = func(context.Context, time.Duration) error { return nil }
	return a
}

func candidates(titles ...string) []Candidate {
	out := make([]Candidate, 0, len(titles))
	for i, title := range titles {
		out = append(out, Candidate{Title: title, PlatformID: "weibo", PlatformName: "微博", Rank: i + 1})
	}
	return out
}

func TestRunClassifiesBatch(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{answers: []string{
		`{"results": [
			{"title": "a", "importance": "critical"},
			{"title": "b", "importance": "low"}
		]}`,
	}}
	store := newRatingStore()
	a := testAnalyzer(client, store, config.ImportanceConfig{BatchSize: 20})

	results, err := a.Run(context.Background(), "2024-03-05", candidates("a", "b"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %v", results)
	}
	key := domain.RatingKey{Title: "a", PlatformID: "weibo"}
	if results[key] != domain.ImportanceCritical || store.ratings[key] != domain.ImportanceCritical {
		t.Fatalf("rating for a = %q (stored %q)", results[key], store.ratings[key])
	}
	if client.calls() != 1 {
		t.Fatalf("calls = %d, want one batch call", client.calls())
	}
}

func TestRunHandlesFencedAndFlatAnswers(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{answers: []string{
		"Here you go:\n```json\n{\"a\": \"high\", \"b\": \"nonsense\"}\n```",
	}}
	store := newRatingStore()
	a := testAnalyzer(client, store, config.ImportanceConfig{BatchSize: 20})

	results, err := a.Run(context.Background(), "2024-03-05", candidates("a", "b"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %v, want only the in-vocabulary rating", results)
	}
	if results[domain.RatingKey{Title: "a", PlatformID: "weibo"}] != domain.ImportanceHigh {
		t.Fatalf("results = %v", results)
	}
}

func TestRunFallsBackToSingleCalls(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{answers: []string{
		"I cannot produce JSON today.",
		`{"importance": "high"}`,
		`{"importance": "medium"}`,
		`not json either`,
	}}
	store := newRatingStore()
	a := testAnalyzer(client, store, config.ImportanceConfig{BatchSize: 20})

	results, err := a.Run(context.Background(), "2024-03-05", candidates("a", "b", "c"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// One batch call plus exactly one single call per batch item.
	if client.calls() != 4 {
		t.Fatalf("calls = %d, want 4", client.calls())
	}
	if len(results) != 2 {
		t.Fatalf("results = %v", results)
	}
	if _, ok := results[domain.RatingKey{Title: "c", PlatformID: "weibo"}]; ok {
		t.Fatal("unparseable single answer produced a rating")
	}
}

func TestRunSkipsAlreadyRated(t *testing.T) {
	t.Parallel()

	store := newRatingStore()
	store.ratings[domain.RatingKey{Title: "a", PlatformID: "weibo"}] = domain.ImportanceLow

	client := &scriptedClient{answers: []string{
		`{"results": [{"title": "b", "importance": "high"}]}`,
	}}
	a := testAnalyzer(client, store, config.ImportanceConfig{BatchSize: 20})

	results, err := a.Run(context.Background(), "2024-03-05", candidates("a", "b"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %v, want only the unrated item", results)
	}
	if strings.Contains(client.prompts[0], "标题: a\n") {
		t.Fatal("already-rated item was re-sent to the classifier")
	}
}

func TestRunAllRatedMakesNoCalls(t *testing.T) {
	t.Parallel()

	store := newRatingStore()
	store.ratings[domain.RatingKey{Title: "a", PlatformID: "weibo"}] = domain.ImportanceLow

	client := &scriptedClient{}
	a := testAnalyzer(client, store, config.ImportanceConfig{BatchSize: 20})

	if _, err := a.Run(context.Background(), "2024-03-05", candidates("a")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if client.calls() != 0 {
		t.Fatalf("calls = %d, want none", client.calls())
	}
}

func TestRunCapsPerRun(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{answers: []string{
		`{"results": [{"title": "t0", "importance": "low"}, {"title": "t1", "importance": "low"}]}`,
	}}
	store := newRatingStore()
	a := testAnalyzer(client, store, config.ImportanceConfig{BatchSize: 20, MaxPerRun: 2})

	cands := candidates("t0", "t1", "t2", "t3")
	if _, err := a.Run(context.Background(), "2024-03-05", cands); err != nil {
		t.Fatalf("run: %v", err)
	}
	if client.calls() != 1 {
		t.Fatalf("calls = %d", client.calls())
	}
	if strings.Contains(client.prompts[0], "t2") {
		t.Fatal("capped item leaked into the prompt")
	}
}

func TestRunSplitsBatches(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{answers: []string{
		`{"results": [{"title": "t0", "importance": "low"}, {"title": "t1", "importance": "low"}]}`,
		`{"results": [{"title": "t2", "importance": "high"}]}`,
	}}
	store := newRatingStore()
	a := testAnalyzer(client, store, config.ImportanceConfig{BatchSize: 2})

	results, err := a.Run(context.Background(), "2024-03-05", candidates("t0", "t1", "t2"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if client.calls() != 2 {
		t.Fatalf("calls = %d, want 2 batches", client.calls())
	}
	if len(results) != 3 {
		t.Fatalf("results = %v", results)
	}
}

func TestRunBatchErrorFallsBackThenContinues(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{
		answers: []string{"", `{"importance": "critical"}`},
		errs:    []error{errors.New("boom"), nil},
	}
	store := newRatingStore()
	a := testAnalyzer(client, store, config.ImportanceConfig{BatchSize: 20})

	results, err := a.Run(context.Background(), "2024-03-05", candidates("a"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if results[domain.RatingKey{Title: "a", PlatformID: "weibo"}] != domain.ImportanceCritical {
		t.Fatalf("results = %v", results)
	}
}

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{`{"a": 1}`, `{"a": 1}`},
		{"```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"text before\n```\n{\"a\": 1}\n```\ntext after", `{"a": 1}`},
		{"  {\"a\": 1}  ", `{"a": 1}`},
	}
	for _, tc := range cases {
		if got := extractJSON(tc.in); got != tc.want {
			t.Errorf("extractJSON(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
