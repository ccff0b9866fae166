// Package words matches curated word lists against profile text using
// case-insensitive word-boundary matching. Terms are escaped before being
// compiled, so regex metacharacters in a word list match literally.
package words

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/blackmichael/bluesky-modlists/internal/domain"
)

// Matcher holds one compiled word list.
type Matcher struct {
	pattern *regexp.Regexp // nil when the word list is empty
}

// NewMatcher compiles a word list. An empty list yields a matcher that never
// matches.
func NewMatcher(terms []string) (*Matcher, error) {
	if len(terms) == 0 {
		return &Matcher{}, nil
	}

	escaped := make([]string, len(terms))
	for i, term := range terms {
		escaped[i] = regexp.QuoteMeta(term)
	}

	expr := `(?i)\b(?:` + strings.Join(escaped, "|") + `)\b`
	pattern, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile word pattern: %w", err)
	}
	return &Matcher{pattern: pattern}, nil
}

// LoadMatcher reads a word-list file, one term per line, surrounding
// whitespace stripped, blank lines ignored. A missing file yields an empty
// matcher.
func LoadMatcher(path string) (*Matcher, error) {
	terms, err := LoadLines(path)
	if err != nil {
		return nil, err
	}
	return NewMatcher(terms)
}

// Match reports whether any term appears in the profile's description,
// handle, or display name. A profile without a description yields false for
// the description field only.
func (m *Matcher) Match(p *domain.Profile) bool {
	if m.pattern == nil {
		return false
	}
	if p.Description != nil && m.pattern.MatchString(*p.Description) {
		return true
	}
	return m.pattern.MatchString(p.Handle) || m.pattern.MatchString(p.DisplayName)
}

// Empty reports whether the matcher has no terms.
func (m *Matcher) Empty() bool {
	return m.pattern == nil
}

// LoadLines reads a file of one term per line, trimming whitespace and
// skipping blanks. A missing file yields an empty slice.
func LoadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open word list: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read word list %s: %w", path, err)
	}
	return lines, nil
}
