// Package equipment maps equipment names to the groups rules can target.
package equipment

import (
	"slices"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/fleetpulse/alertcore/internal/saferegex"
)

// Classifier returns the ordered, possibly empty, list of groups an
// equipment belongs to.
type Classifier interface {
	DetectGroups(name string) []string
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(name string) []string

func (f ClassifierFunc) DetectGroups(name string) []string {
	return f(name)
}

// Nop never assigns a group.
var Nop Classifier = ClassifierFunc(func(string) []string { return nil })

// Matcher tests equipment names against user-supplied patterns. Patterns
// are case-insensitive regular expressions; a pattern that fails to compile
// or times out degrades to a case-insensitive substring test.
type Matcher struct {
	re *saferegex.Matcher
}

// NewMatcher creates a Matcher whose regex matches are bounded by timeout.
func NewMatcher(timeout time.Duration) *Matcher {
	return &Matcher{re: saferegex.New(timeout, 0)}
}

// Match reports whether name matches pattern.
func (m *Matcher) Match(pattern, name string) bool {
	if pattern == "" {
		return false
	}
	ok, err := m.re.MatchString(pattern, name, true)
	if err != nil {
		return strings.Contains(strings.ToLower(name), strings.ToLower(pattern))
	}
	return ok
}

// MatchAny reports whether name matches at least one pattern.
func (m *Matcher) MatchAny(patterns []string, name string) bool {
	return slices.ContainsFunc(patterns, func(p string) bool { return m.Match(p, name) })
}

// PatternClassifier assigns every group that has a pattern matching the name.
type PatternClassifier struct {
	groups  map[string][]string
	order   []string
	matcher *Matcher
}

// NewPatternClassifier builds a classifier from group name to patterns.
// Groups are reported in name order.
func NewPatternClassifier(groups map[string][]string, matcher *Matcher) *PatternClassifier {
	if matcher == nil {
		matcher = NewMatcher(0)
	}
	order := make([]string, 0, len(groups))
	copied := make(map[string][]string, len(groups))
	for name, patterns := range groups {
		order = append(order, name)
		copied[name] = slices.Clone(patterns)
	}
	sort.Strings(order)
	return &PatternClassifier{groups: copied, order: order, matcher: matcher}
}

func (c *PatternClassifier) DetectGroups(name string) []string {
	if strings.TrimSpace(name) == "" {
		return nil
	}
	var out []string
	for _, group := range c.order {
		if c.matcher.MatchAny(c.groups[group], name) {
			out = append(out, group)
		}
	}
	return out
}

// CachedClassifier memoizes another classifier for a TTL.
type CachedClassifier struct {
	inner Classifier
	cache *gocache.Cache
}

// NewCachedClassifier wraps inner. A non-positive ttl never expires entries.
func NewCachedClassifier(inner Classifier, ttl time.Duration) *CachedClassifier {
	expiration := ttl
	cleanup := 2 * ttl
	if ttl <= 0 {
		expiration = gocache.NoExpiration
		cleanup = 0
	}
	return &CachedClassifier{inner: inner, cache: gocache.New(expiration, cleanup)}
}

func (c *CachedClassifier) DetectGroups(name string) []string {
	if v, ok := c.cache.Get(name); ok {
		if groups, ok := v.([]string); ok {
			return slices.Clone(groups)
		}
	}
	groups := c.inner.DetectGroups(name)
	c.cache.SetDefault(name, slices.Clone(groups))
	return groups
}

// Flush drops every cached result. Call it when group definitions change.
func (c *CachedClassifier) Flush() {
	c.cache.Flush()
}

// Len returns the number of cached names.
func (c *CachedClassifier) Len() int {
	return c.cache.ItemCount()
}
