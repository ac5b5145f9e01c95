package ratelimit

import (
	"strings"
	"time"
)

// Rule configures a fixed window limit.
type Rule struct {
	// Name identifies the rule in store keys and metrics. Two rules with the
	// same name share counters.
	Name string
	// Endpoint is an exact path or a prefix ending in "*". Empty matches any
	// path.
	Endpoint string
	// Method is an HTTP method. Empty matches any method.
	Method string

	Limit  int
	Window time.Duration
	// BlockFor keeps an identifier blocked after it exceeds the limit, even
	// across window boundaries. Zero blocks until the window ends.
	BlockFor time.Duration

	// TokenLimit and TokenWindow replace Limit and Window for requests
	// authenticated with an API token, when set.
	TokenLimit  int
	TokenWindow time.Duration
}

// limits returns the effective limit and window for a request.
func (r Rule) limits(token bool, tokenRateLimit int) (int, time.Duration) {
	limit, window := r.Limit, r.Window
	if token {
		if r.TokenLimit > 0 {
			limit = r.TokenLimit
		}
		if r.TokenWindow > 0 {
			window = r.TokenWindow
		}
		if tokenRateLimit > 0 {
			limit, window = tokenRateLimit, time.Hour
		}
	}
	return limit, window
}

func (r Rule) matchesEndpoint(path string) bool {
	if r.Endpoint == "" {
		return true
	}
	if prefix, ok := strings.CutSuffix(r.Endpoint, "*"); ok {
		return strings.HasPrefix(path, prefix)
	}
	return r.Endpoint == path
}

func (r Rule) matchesMethod(method string) bool {
	return r.Method == "" || strings.EqualFold(r.Method, method)
}

// specificity ranks a matching rule: endpoint+method > endpoint > method.
func (r Rule) specificity() int {
	rank := 0
	if r.Endpoint != "" {
		rank += 2
	}
	if r.Method != "" {
		rank++
	}
	return rank
}

// Rules is an ordered rule table with a fallback.
type Rules struct {
	Default  Rule
	Specific []Rule
}

// Match returns the most specific rule for the request. Among equally
// specific rules the longer endpoint wins, then declaration order.
func (rs Rules) Match(method, path string) Rule {
	best := rs.Default
	bestRank, bestLen := -1, -1
	for _, r := range rs.Specific {
		if !r.matchesMethod(method) || !r.matchesEndpoint(path) {
			continue
		}
		rank, n := r.specificity(), len(r.Endpoint)
		if rank > bestRank || (rank == bestRank && n > bestLen) {
			best, bestRank, bestLen = r, rank, n
		}
	}
	if best.Name == "" {
		best.Name = "default"
	}
	return best
}
