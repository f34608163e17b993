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

// Package domainfilter holds the authoritative set of monitored and
// blocked AI platform hostnames (spec C2) and generates the PAC script
// clients use to route traffic to the local proxy.
package domainfilter

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Entry pairs a monitored domain with whether it is fully blocked.
type Entry struct {
	Domain    string
	Platform  string
	IsBlocked bool
}

// set is the immutable snapshot swapped under Filter.current. Readers
// take the atomic pointer and never block a concurrent Update.
type set struct {
	monitored map[string]string // domain -> platform name
	blocked   map[string]bool
}

// Filter answers should_intercept/is_blocked/pac against the current
// snapshot. Updates are atomic: readers observe either the old or the
// new set in full, never a torn state (spec §4.2).
type Filter struct {
	current atomic.Pointer[set]
	mu      sync.Mutex // serializes writers; readers never take it
}

// defaultDomains is the baked-in list of known AI hostnames from spec §4.2,
// replaceable wholesale by a server sync.
var defaultDomains = []Entry{
	{Domain: "api.openai.com", Platform: "chatgpt"},
	{Domain: "chat.openai.com", Platform: "chatgpt"},
	{Domain: "chatgpt.com", Platform: "chatgpt"},
	{Domain: "claude.ai", Platform: "claude"},
	{Domain: "api.anthropic.com", Platform: "claude"},
	{Domain: "copilot.microsoft.com", Platform: "copilot"},
	{Domain: "github.copilot.com", Platform: "copilot"},
	{Domain: "gemini.google.com", Platform: "gemini"},
	{Domain: "generativelanguage.googleapis.com", Platform: "gemini"},
	{Domain: "huggingface.co", Platform: "huggingface"},
	{Domain: "api.mistral.ai", Platform: "mistral"},
	{Domain: "chat.mistral.ai", Platform: "mistral"},
	{Domain: "api.perplexity.ai", Platform: "perplexity"},
	{Domain: "www.perplexity.ai", Platform: "perplexity"},
}

// NewWithDefaults builds a Filter seeded with defaultDomains, none blocked.
func NewWithDefaults() *Filter {
	f := &Filter{}
	f.current.Store(buildSet(defaultDomains))
	return f
}

func buildSet(entries []Entry) *set {
	s := &set{
		monitored: make(map[string]string, len(entries)),
		blocked:   make(map[string]bool, len(entries)),
	}
	for _, e := range entries {
		s.monitored[e.Domain] = e.Platform
		if e.IsBlocked {
			s.blocked[e.Domain] = true
		}
	}
	return s
}

func suffixMatch(host string, domains map[string]bool) bool {
	if domains[host] {
		return true
	}
	for d := range domains {
		if strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// ShouldIntercept reports whether host (or any of its parent domains in
// the monitored set) should be MITM-intercepted. Suffix-closed per §8
// invariant 3: a monitored domain implies all its subdomains.
func (f *Filter) ShouldIntercept(host string) bool {
	s := f.current.Load()
	if _, ok := s.monitored[host]; ok {
		return true
	}
	for d := range s.monitored {
		if strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// IsBlocked reports whether host is in the blocked subset.
func (f *Filter) IsBlocked(host string) bool {
	s := f.current.Load()
	return suffixMatch(host, s.blocked)
}

// Platform returns the platform name registered for host, if monitored.
func (f *Filter) Platform(host string) (string, bool) {
	s := f.current.Load()
	if p, ok := s.monitored[host]; ok {
		return p, true
	}
	for d, p := range s.monitored {
		if strings.HasSuffix(host, "."+d) {
			return p, true
		}
	}
	return "", false
}

// Update atomically replaces the monitored/blocked sets with entries,
// typically driven by a server domain sync.
func (f *Filter) Update(entries []Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current.Store(buildSet(entries))
}

// PAC renders a Proxy Auto-Config script (spec §4.2) that routes every
// monitored domain (and its subdomains, via dnsDomainIs) through the
// local proxy on proxyPort, and everything else direct.
func (f *Filter) PAC(proxyPort int) string {
	s := f.current.Load()
	domains := make([]string, 0, len(s.monitored))
	for d := range s.monitored {
		domains = append(domains, d)
	}

	var conditions strings.Builder
	for i, d := range domains {
		if i > 0 {
			conditions.WriteString(" ||\n")
		}
		fmt.Fprintf(&conditions, "        dnsDomainIs(host, \"%s\")", d)
	}

	return fmt.Sprintf(`function FindProxyForURL(url, host) {
    if (
%s
    ) {
        return "PROXY 127.0.0.1:%d";
    }
    return "DIRECT";
}`, conditions.String(), proxyPort)
}
