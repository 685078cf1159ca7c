// Package keyword builds the per-session lookup from keyword to action target.
//
// An Index is built once from an ordered rule snapshot and never changes. A
// keyword that appears in several rules keeps the position of its first
// occurrence and the target of its last one. Match scans keywords in that
// order and returns the first one contained in the text.
package keyword

import "strings"

// Rule binds a keyword to the action target it triggers.
type Rule struct {
	Keyword string `json:"keyword"`
	Target  int64  `json:"target"`
}

// Match is the outcome of a successful lookup.
type Match struct {
	Keyword string
	Target  int64
}

// Index is an immutable, ordered keyword lookup. The zero value matches
// nothing. Safe for concurrent use.
type Index struct {
	rules []Rule
}

// Build constructs an Index from rules in snapshot order. Empty keywords are
// skipped since they would match every text.
func Build(rules []Rule) *Index {
	position := make(map[string]int, len(rules))
	ordered := make([]Rule, 0, len(rules))

	for _, r := range rules {
		if r.Keyword == "" {
			continue
		}
		if i, exists := position[r.Keyword]; exists {
			ordered[i].Target = r.Target
			continue
		}
		position[r.Keyword] = len(ordered)
		ordered = append(ordered, r)
	}

	return &Index{rules: ordered}
}

// Match returns the first keyword, in index order, that is a literal
// case-sensitive substring of text.
func (idx *Index) Match(text string) (Match, bool) {
	if idx == nil || text == "" {
		return Match{}, false
	}

	for _, r := range idx.rules {
		if strings.Contains(text, r.Keyword) {
			return Match{Keyword: r.Keyword, Target: r.Target}, true
		}
	}
	return Match{}, false
}

// Len returns the number of distinct keywords.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.rules)
}

// Rules returns a copy of the effective rules in match order.
func (idx *Index) Rules() []Rule {
	if idx == nil {
		return nil
	}
	return append([]Rule(nil), idx.rules...)
}
