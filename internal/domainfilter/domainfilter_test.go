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

package domainfilter

import "testing"

func TestSuffixClosure(t *testing.T) {
	f := NewWithDefaults()
	if !f.ShouldIntercept("api.openai.com") {
		t.Fatal("expected exact match to intercept")
	}
	if !f.ShouldIntercept("foo.api.openai.com") {
		t.Fatal("expected subdomain to intercept (suffix closure)")
	}
	if f.ShouldIntercept("example.com") {
		t.Fatal("expected unrelated domain to pass through")
	}
}

func TestUpdateAtomicSwap(t *testing.T) {
	f := NewWithDefaults()
	f.Update([]Entry{{Domain: "evil.ai", IsBlocked: true}})

	if f.ShouldIntercept("api.openai.com") {
		t.Fatal("old defaults should no longer be monitored after Update")
	}
	if !f.ShouldIntercept("evil.ai") || !f.IsBlocked("evil.ai") {
		t.Fatal("new domain should be monitored and blocked")
	}
	if !f.IsBlocked("sub.evil.ai") {
		t.Fatal("blocked set should also be suffix-closed")
	}
}

func TestPACContainsMonitoredDomains(t *testing.T) {
	f := NewWithDefaults()
	pac := f.PAC(8443)
	if !contains(pac, "FindProxyForURL") || !contains(pac, "127.0.0.1:8443") {
		t.Fatalf("PAC script missing expected structure: %s", pac)
	}
	if !contains(pac, "api.openai.com") {
		t.Fatal("PAC script should list monitored domains")
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
