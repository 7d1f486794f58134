// Package filter applies the keyword word-group file to crawled titles
// before they are saved. The file holds groups separated by blank lines;
// inside a group a plain line is an any-of word, a "+" prefix marks a
// required word and a "!" prefix marks an exclusion word. A group made of
// exclusion words only contributes global exclusions that apply to every
// title. Matching is case-insensitive substring matching.
package filter

import (
	"bufio"
	"io"
	"os"
	"strings"
)

type group struct {
	words    []string // any-of
	required []string
	excluded []string
}

// Filter is the compiled word-group set. The zero value matches everything.
type Filter struct {
	groups        []group
	globalExclude []string
}

// LoadFile reads and compiles a word-group file. A missing file yields a
// pass-through filter, matching the behavior of running without keyword
// configuration.
func LoadFile(path string) (*Filter, error) {
	if path == "" {
		return &Filter{}, nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return &Filter{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse compiles word groups from r.
func Parse(r io.Reader) (*Filter, error) {
	var (
		out Filter
		cur group
	)
	flush := func() {
		if len(cur.words) == 0 && len(cur.required) == 0 {
			// Exclusion-only groups apply globally.
			out.globalExclude = append(out.globalExclude, cur.excluded...)
		} else {
			out.groups = append(out.groups, cur)
		}
		cur = group{}
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		switch {
		case strings.HasPrefix(line, "+"):
			if word := strings.TrimSpace(line[1:]); word != "" {
				cur.required = append(cur.required, strings.ToLower(word))
			}
		case strings.HasPrefix(line, "!"):
			if word := strings.TrimSpace(line[1:]); word != "" {
				cur.excluded = append(cur.excluded, strings.ToLower(word))
			}
		default:
			cur.words = append(cur.words, strings.ToLower(line))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return &out, nil
}

// Empty reports whether no groups and no exclusions are configured, in
// which case Match accepts every title.
func (f *Filter) Empty() bool {
	return len(f.groups) == 0 && len(f.globalExclude) == 0
}

// Match reports whether a title passes the filter.
func (f *Filter) Match(title string) bool {
	_, ok := f.MatchedKeyword(title)
	return ok
}

// MatchedKeyword returns the label of the first group the title matched,
// which callers use for per-keyword grouping in reports. An empty filter
// matches with an empty label.
func (f *Filter) MatchedKeyword(title string) (string, bool) {
	if f.Empty() {
		return "", true
	}

	lower := strings.ToLower(title)
	for _, word := range f.globalExclude {
		if strings.Contains(lower, word) {
			return "", false
		}
	}

	for _, g := range f.groups {
		if g.matches(lower) {
			return g.label(), true
		}
	}
	return "", false
}

func (g group) matches(lower string) bool {
	for _, word := range g.excluded {
		if strings.Contains(lower, word) {
			return false
		}
	}
	for _, word := range g.required {
		if !strings.Contains(lower, word) {
			return false
		}
	}
	if len(g.words) == 0 {
		// Required-only group: all requirements held.
		return true
	}
	for _, word := range g.words {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

func (g group) label() string {
	if len(g.words) > 0 {
		return g.words[0]
	}
	if len(g.required) > 0 {
		return g.required[0]
	}
	return ""
}
