// Copyright 2026 The Icon Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rules

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// regexCacheKey identifies a compiled pattern by its source text and the
// case-insensitivity flag, same as the (pattern, case_insensitive) tuple
// key used by the original engine.
type regexCacheKey struct {
	pattern         string
	caseInsensitive bool
}

type regexCacheEntry struct {
	re  *regexp.Regexp
	err error
}

// regexCache caches both successful compiles and compile errors, so a
// broken rule doesn't cause recompilation storms on every evaluation.
const regexCacheSize = 512

var (
	regexCacheOnce sync.Once
	regexCache     *lru.Cache[regexCacheKey, regexCacheEntry]

	// warnedPatterns tracks which bad patterns have already been logged,
	// so a rule with a broken regex warns once rather than on every
	// Matches call (spec §7).
	warnedPatterns sync.Map // regexCacheKey -> struct{}
)

func getRegexCache() *lru.Cache[regexCacheKey, regexCacheEntry] {
	regexCacheOnce.Do(func() {
		c, err := lru.New[regexCacheKey, regexCacheEntry](regexCacheSize)
		if err != nil {
			panic(err) // only fails for a non-positive size, which is a programming error
		}
		regexCache = c
	})
	return regexCache
}

func getOrCompileRegex(pattern string, caseInsensitive bool) (*regexp.Regexp, error) {
	key := regexCacheKey{pattern: pattern, caseInsensitive: caseInsensitive}
	cache := getRegexCache()

	if entry, ok := cache.Get(key); ok {
		return entry.re, entry.err
	}

	src := pattern
	if caseInsensitive {
		src = "(?i)" + pattern
	}
	re, err := regexp.Compile(src)
	cache.Add(key, regexCacheEntry{re: re, err: err})
	return re, err
}

// warnBadPattern logs a broken regex pattern the first time it's seen
// and silently skips every subsequent occurrence of the same pattern.
func warnBadPattern(log *zap.Logger, pattern string, caseInsensitive bool, err error) {
	if log == nil {
		return
	}
	key := regexCacheKey{pattern: pattern, caseInsensitive: caseInsensitive}
	if _, alreadyWarned := warnedPatterns.LoadOrStore(key, struct{}{}); alreadyWarned {
		return
	}
	log.Warn("invalid regex pattern in rule", zap.String("pattern", pattern), zap.Error(err))
}

// Matches reports whether content satisfies condition, per the semantics
// in spec §4.5 and §8 invariant 6.
func Matches(content string, cond Condition, log *zap.Logger) bool {
	switch cond.Type {
	case ConditionRegex:
		re, err := getOrCompileRegex(cond.Pattern, cond.CaseInsensitive)
		if err != nil {
			warnBadPattern(log, cond.Pattern, cond.CaseInsensitive, err)
			return false
		}
		return re.MatchString(content)

	case ConditionKeyword:
		lower := strings.ToLower(content)
		if cond.MatchAll {
			for _, kw := range cond.Keywords {
				if !strings.Contains(lower, strings.ToLower(kw)) {
					return false
				}
			}
			return len(cond.Keywords) > 0
		}
		for _, kw := range cond.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return true
			}
		}
		return false

	case ConditionDomainList:
		lower := strings.ToLower(content)
		for _, d := range cond.Domains {
			if strings.Contains(lower, strings.ToLower(d)) {
				return true
			}
		}
		return false

	case ConditionContentLength:
		n := len(content)
		exceedsMax := cond.Max != nil && n > *cond.Max
		belowMin := cond.Min != nil && n < *cond.Min
		return exceedsMax || belowMin

	default:
		return false
	}
}

// ValidateCondition returns a descriptive error if cond could never match
// anything sensible (used when accepting rules from sync, so a malformed
// condition is logged once rather than silently ignored forever).
func ValidateCondition(cond Condition) error {
	switch cond.Type {
	case ConditionRegex, ConditionKeyword, ConditionDomainList, ConditionContentLength:
		return nil
	default:
		return fmt.Errorf("unknown condition type %q", cond.Type)
	}
}
