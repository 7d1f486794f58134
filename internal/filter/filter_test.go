package filter

import (
	"path/filepath"
	"strings"
	"testing"
)

const sampleGroups = `
AI
大模型
+发布

!广告

股市
!基金
`

func TestEmptyFilterMatchesEverything(t *testing.T) {
	t.Parallel()

	f, err := Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !f.Empty() {
		t.Fatal("expected empty filter")
	}
	if !f.Match("anything at all") {
		t.Fatal("empty filter rejected a title")
	}
}

func TestGroupMatching(t *testing.T) {
	t.Parallel()

	f, err := Parse(strings.NewReader(sampleGroups))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	cases := []struct {
		title string
		want  bool
	}{
		{"AI发布新品", true},            // any-of word plus required word
		{"AI的新进展", false},           // missing required 发布
		{"大模型发布会", true},
		{"股市大涨", true},
		{"股市基金双双走低", false},         // group exclusion
		{"AI发布广告投放", false},         // global exclusion wins
		{"ai发布（小写）", true},          // case-insensitive
		{"完全无关的标题", false},
	}
	for _, tc := range cases {
		if got := f.Match(tc.title); got != tc.want {
			t.Errorf("Match(%q) = %v, want %v", tc.title, got, tc.want)
		}
	}
}

func TestMatchedKeywordLabel(t *testing.T) {
	t.Parallel()

	f, err := Parse(strings.NewReader(sampleGroups))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	label, ok := f.MatchedKeyword("大模型发布实录")
	if !ok {
		t.Fatal("expected a match")
	}
	if label != "ai" {
		t.Fatalf("label = %q, want the group's first word", label)
	}
}

func TestRequiredOnlyGroup(t *testing.T) {
	t.Parallel()

	f, err := Parse(strings.NewReader("+quantum\n+chip\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !f.Match("Quantum chip breakthrough") {
		t.Fatal("all required words present but title rejected")
	}
	if f.Match("Quantum computing news") {
		t.Fatal("missing required word but title accepted")
	}
}

func TestCommentsAreIgnored(t *testing.T) {
	t.Parallel()

	f, err := Parse(strings.NewReader("# heading\nrocket\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Match("# heading here") {
		t.Fatal("comment line leaked into the word set")
	}
	if !f.Match("rocket launch") {
		t.Fatal("word below comment not loaded")
	}
}

func TestLoadFileMissingIsPassThrough(t *testing.T) {
	t.Parallel()

	f, err := LoadFile(filepath.Join(t.TempDir(), "absent.txt"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !f.Match("anything") {
		t.Fatal("missing file should not filter")
	}
}
