// Package mapper translates a canonical URL into an ordered list of
// candidate mirror URLs using a set of regex-based rewrite rules.
package mapper

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Region filters which mapping rules apply to a request.
type Region string

const (
	RegionGlobal       Region = "global"
	RegionChina        Region = "china"
	RegionAsia         Region = "asia"
	RegionAsiaPacific  Region = "asia_pacific"
	RegionEurope       Region = "europe"
	RegionNorthAmerica Region = "north_america"
)

// CustomRegion builds a Region value for a named region outside the
// predefined enumeration.
func CustomRegion(name string) Region { return Region(name) }

// RuleConfig is the externally supplied, uncompiled description of a rule.
type RuleConfig struct {
	Name         string
	Pattern      string
	Replacements []string
	Regions      []Region
	Priority     int
	Enabled      bool
}

// rule is a RuleConfig compiled at load time.
type rule struct {
	name         string
	pattern      *regexp.Regexp
	replacements []string
	regions      map[Region]struct{}
	priority     int
	enabled      bool
}

// CandidateURL is one URL produced by the mapper.
type CandidateURL struct {
	URL    string
	Rule   string
	Score  float64
}

// Mapper holds a compiled, priority-ordered rule set and a bounded,
// TTL-expiring cache of recent lookups.
type Mapper struct {
	rules []rule
	cache *lru.LRU[cacheKey, []string]
}

type cacheKey struct {
	url    string
	region Region
}

// Config controls the mapper's cache bounds.
type Config struct {
	MaxCacheEntries int
	CacheTTL        time.Duration
}

// DefaultConfig mirrors spec defaults for an unconfigured mapper.
func DefaultConfig() Config {
	return Config{MaxCacheEntries: 1000, CacheTTL: 10 * time.Minute}
}

// New compiles the given rule set and returns a ready-to-use Mapper.
// Malformed patterns are rejected here, never at Map time.
func New(rules []RuleConfig, cfg Config) (*Mapper, error) {
	compiled := make([]rule, 0, len(rules))
	for _, rc := range rules {
		re, err := regexp.Compile(rc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("mapper: invalid rule %q: %w", rc.Name, err)
		}
		regionSet := make(map[Region]struct{}, len(rc.Regions))
		for _, r := range rc.Regions {
			regionSet[r] = struct{}{}
		}
		compiled = append(compiled, rule{
			name:         rc.Name,
			pattern:      re,
			replacements: append([]string(nil), rc.Replacements...),
			regions:      regionSet,
			priority:     rc.Priority,
			enabled:      rc.Enabled,
		})
	}
	sort.SliceStable(compiled, func(i, j int) bool { return compiled[i].priority < compiled[j].priority })

	if cfg.MaxCacheEntries <= 0 {
		cfg.MaxCacheEntries = DefaultConfig().MaxCacheEntries
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}

	return &Mapper{
		rules: compiled,
		cache: lru.NewLRU[cacheKey, []string](cfg.MaxCacheEntries, nil, cfg.CacheTTL),
	}, nil
}

// Map expands url into an ordered, deduplicated list of candidate URLs for
// the given region. The original url is always present exactly once.
func (m *Mapper) Map(url string, region Region) []string {
	key := cacheKey{url: url, region: region}
	if cached, ok := m.cache.Get(key); ok {
		return cached
	}

	out := make([]string, 0, len(m.rules)+1)
	out = append(out, url)

	for _, r := range m.rules {
		if !r.enabled {
			continue
		}
		if !ruleAppliesToRegion(r, region) {
			continue
		}
		matches := r.pattern.FindStringSubmatchIndex(url)
		if matches == nil {
			continue
		}
		for _, tmpl := range r.replacements {
			expanded := expandTemplate(r.pattern, tmpl, url, matches)
			if expanded != "" {
				out = append(out, expanded)
			}
		}
	}

	deduped := dedupePreserveOrder(out)
	m.cache.Add(key, deduped)
	return deduped
}

func ruleAppliesToRegion(r rule, region Region) bool {
	if len(r.regions) == 0 {
		return true
	}
	_, ok := r.regions[region]
	return ok
}

// expandTemplate expands a replacement template against the match, skipping
// (returning "") if the template references a capture group that did not
// participate in the match.
func expandTemplate(pattern *regexp.Regexp, tmpl, src string, matches []int) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = ""
		}
	}()

	// ExpandString writes an empty byte sequence for unmatched groups rather
	// than erroring, so we detect "references an unmatched group" ourselves:
	// any $N or ${name} group whose submatch indices are -1 disqualifies the
	// whole replacement per the mapper's edge-case contract.
	if referencesUnmatchedGroup(pattern, tmpl, matches) {
		return ""
	}

	dst := pattern.ExpandString(nil, tmpl, src, matches)
	return string(dst)
}

var groupRefPattern = regexp.MustCompile(`\$(\d+)|\$\{(\w+)\}`)

func referencesUnmatchedGroup(pattern *regexp.Regexp, tmpl string, matches []int) bool {
	names := pattern.SubexpNames()
	for _, m := range groupRefPattern.FindAllStringSubmatch(tmpl, -1) {
		var idx = -1
		if m[1] != "" {
			fmt.Sscanf(m[1], "%d", &idx)
		} else if m[2] != "" {
			for i, n := range names {
				if n == m[2] {
					idx = i
					break
				}
			}
			if idx == -1 {
				return true
			}
		}
		if idx < 0 || idx*2+1 >= len(matches) {
			continue
		}
		if matches[idx*2] == -1 {
			return true
		}
	}
	return false
}

func dedupePreserveOrder(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Len reports the current number of cached (url, region) lookups.
func (m *Mapper) Len() int { return m.cache.Len() }
