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

// Package queue is the durable, offline-buffering event log: C6 and C7
// append events fire-and-forget, a background loop drains them to the API
// client in batches, and a retention pass garbage-collects old synced rows
// (spec C8).
package queue

import "time"

// Type is the small closed set of event kinds emitted onto the queue.
type Type string

const (
	TypePrompt         Type = "prompt"
	TypeResponse       Type = "response"
	TypeResponseAlert  Type = "response_alert"
	TypeBlock          Type = "block"
	TypeAlert          Type = "alert"
	TypeDomainBlock    Type = "domain_block"
	TypeClipboardLog   Type = "clipboard_log"
	TypeClipboardAlert Type = "clipboard_alert"
	TypeClipboardBlock Type = "clipboard_block"
)

// Event is one DLP record: a prompt/response observation, a block/alert
// decision, or a clipboard finding. Excerpt fields are UTF-8-boundary-safe
// truncations of the original content, never the full body.
type Event struct {
	ID              int64 // local autoincrement; zero until persisted
	EventType       Type
	Platform        string
	Domain          string
	ContentHash     string
	PromptExcerpt   string
	ResponseExcerpt string
	RuleID          string
	Severity        string
	Metadata        map[string]any
	OccurredAt      time.Time
	CreatedAt       time.Time
	Synced          bool
}

// ExcerptLimit bounds how much content an excerpt carries; truncation
// snaps to the nearest preceding UTF-8 rune boundary so an excerpt is
// never split mid-codepoint.
const ExcerptLimit = 1024

// Excerpt truncates content to at most ExcerptLimit bytes without
// splitting a multi-byte UTF-8 rune.
func Excerpt(content string) string {
	if len(content) <= ExcerptLimit {
		return content
	}
	cut := ExcerptLimit
	for cut > 0 && !isUTF8Boundary(content[cut]) {
		cut--
	}
	return content[:cut]
}

// isUTF8Boundary reports whether b is not a UTF-8 continuation byte
// (10xxxxxx), i.e. it is safe to slice immediately before it.
func isUTF8Boundary(b byte) bool {
	return b&0xC0 != 0x80
}
