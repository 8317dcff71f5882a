package core

import (
	"container/list"
	"regexp"
	"strings"
	"sync"
)

const defaultPatternCacheSize = 512

// Matcher decides whether a rule applies to a request endpoint and method.
// Compiled glob patterns are kept in a bounded LRU.
type Matcher struct {
	mu       sync.Mutex
	max      int
	patterns map[string]*list.Element
	order    *list.List
}

type compiledPattern struct {
	pattern string
	re      *regexp.Regexp
}

// NewMatcher constructs a Matcher caching up to max compiled patterns.
func NewMatcher(max int) *Matcher {
	if max <= 0 {
		max = defaultPatternCacheSize
	}
	return &Matcher{
		max:      max,
		patterns: make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Matches reports whether rule applies to endpoint and method. Disabled rules never match.
func (m *Matcher) Matches(rule *Rule, endpoint string, method Method) bool {
	if rule == nil || !rule.Enabled {
		return false
	}
	if rule.Method != MethodAll && rule.Method != method {
		return false
	}
	return m.MatchEndpoint(rule.Endpoint, endpoint)
}

// MatchEndpoint applies the endpoint rules: "*" matches everything, then substring
// containment, then a glob where "*" spans any run of characters.
func (m *Matcher) MatchEndpoint(pattern, endpoint string) bool {
	if pattern == "*" {
		return true
	}
	if strings.Contains(endpoint, pattern) {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}
	return m.compile(pattern).MatchString(endpoint)
}

func (m *Matcher) compile(pattern string) *regexp.Regexp {
	m.mu.Lock()
	defer m.mu.Unlock()

	if element, ok := m.patterns[pattern]; ok {
		m.order.MoveToFront(element)
		return element.Value.(*compiledPattern).re
	}
	re := globToRegexp(pattern)
	m.patterns[pattern] = m.order.PushFront(&compiledPattern{pattern: pattern, re: re})
	for len(m.patterns) > m.max {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.order.Remove(oldest)
		delete(m.patterns, oldest.Value.(*compiledPattern).pattern)
	}
	return re
}

// Cached returns the number of compiled patterns held.
func (m *Matcher) Cached() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.patterns)
}

func globToRegexp(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
}
