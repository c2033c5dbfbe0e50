// Package saferegex compiles and caches user-supplied patterns with a match
// timeout so a pathological pattern cannot stall evaluation.
package saferegex

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fleetpulse/alertcore/internal/errors"
)

const (
	// DefaultTimeout bounds a single match.
	DefaultTimeout = 100 * time.Millisecond
	// DefaultCacheSize is the number of compiled patterns kept.
	DefaultCacheSize = 512
	// MaxPatternLength rejects patterns longer than this.
	MaxPatternLength = 1000
)

// ErrTimeout is returned when a match exceeds the configured timeout.
var ErrTimeout = errors.New("regex evaluation timeout")

// Matcher compiles patterns on first use and caches them. It is safe for
// concurrent use.
type Matcher struct {
	timeout time.Duration
	cache   *lru.Cache[string, *regexp2.Regexp]
}

// New creates a Matcher. Non-positive arguments select the defaults.
func New(timeout time.Duration, cacheSize int) *Matcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *regexp2.Regexp](cacheSize)
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic(err)
	}
	return &Matcher{timeout: timeout, cache: cache}
}

// Compile returns the compiled pattern, using the cache when possible.
func (m *Matcher) Compile(pattern string, ignoreCase bool) (*regexp2.Regexp, error) {
	if pattern == "" {
		return nil, errors.New("regex pattern cannot be empty")
	}
	if len(pattern) > MaxPatternLength {
		return nil, fmt.Errorf("regex pattern too long: %d characters (max %d)", len(pattern), MaxPatternLength)
	}

	key := strconv.FormatBool(ignoreCase) + ":" + pattern
	if re, ok := m.cache.Get(key); ok {
		return re, nil
	}

	// Stored patterns are JavaScript regular expressions.
	opts := regexp2.RegexOptions(regexp2.ECMAScript)
	if ignoreCase {
		opts |= regexp2.IgnoreCase
	}
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to compile regex pattern: %w", err)
	}
	re.MatchTimeout = m.timeout
	m.cache.Add(key, re)
	return re, nil
}

// MatchString compiles pattern and reports whether it matches input.
func (m *Matcher) MatchString(pattern, input string, ignoreCase bool) (bool, error) {
	re, err := m.Compile(pattern, ignoreCase)
	if err != nil {
		return false, err
	}
	ok, err := re.MatchString(input)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "timeout") {
			return false, ErrTimeout
		}
		return false, fmt.Errorf("regex matching error: %w", err)
	}
	return ok, nil
}

// Valid reports whether pattern compiles.
func (m *Matcher) Valid(pattern string) error {
	_, err := m.Compile(pattern, false)
	return err
}

// Len returns the number of cached patterns.
func (m *Matcher) Len() int {
	return m.cache.Len()
}

// Purge drops every cached pattern.
func (m *Matcher) Purge() {
	m.cache.Purge()
}
