// Package similarity compares alert messages: edit distance, a normalized
// similarity ratio and the normalization applied before comparing.
package similarity

import (
	"regexp"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NumberPlaceholder replaces every number during normalization.
const NumberPlaceholder = "#"

var numberPattern = regexp.MustCompile(`\d+(?:[.,]\d+)*`)

// EditDistance returns the Levenshtein distance between a and b counted in runes.
func EditDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Ratio returns 1 - EditDistance(a, b)/max(len(a), len(b)). Two empty strings
// are identical.
func Ratio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(EditDistance(a, b))/float64(longest)
}

// Normalize lower-cases s, strips accents, replaces numbers with
// NumberPlaceholder and collapses whitespace.
func Normalize(s string) string {
	// Transformers carry state and are not safe to share across goroutines.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = cases.Lower(language.Und).String(folded)
	folded = numberPattern.ReplaceAllString(folded, NumberPlaceholder)
	return strings.Join(strings.Fields(folded), " ")
}

// Compare normalizes both strings and returns their Ratio.
func Compare(a, b string) float64 {
	return Ratio(Normalize(a), Normalize(b))
}

// Normalizer memoizes Normalize in a bounded cache. It is safe for
// concurrent use.
type Normalizer struct {
	cache *lru.Cache[string, string]
}

// NewNormalizer returns a Normalizer holding at most size entries.
// A non-positive size disables caching.
func NewNormalizer(size int) *Normalizer {
	if size <= 0 {
		return &Normalizer{}
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return &Normalizer{}
	}
	return &Normalizer{cache: cache}
}

// Normalize returns the cached normalization of s.
func (n *Normalizer) Normalize(s string) string {
	if n == nil || n.cache == nil {
		return Normalize(s)
	}
	if v, ok := n.cache.Get(s); ok {
		return v
	}
	v := Normalize(s)
	n.cache.Add(s, v)
	return v
}

// Compare normalizes both strings through the cache and returns their Ratio.
func (n *Normalizer) Compare(a, b string) float64 {
	return Ratio(n.Normalize(a), n.Normalize(b))
}

// Len returns the number of cached entries.
func (n *Normalizer) Len() int {
	if n == nil || n.cache == nil {
		return 0
	}
	return n.cache.Len()
}

// Purge empties the cache.
func (n *Normalizer) Purge() {
	if n != nil && n.cache != nil {
		n.cache.Purge()
	}
}
