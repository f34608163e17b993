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

package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/ouattaraab/Icon/internal/framer"
	"github.com/ouattaraab/Icon/internal/metrics"
	"github.com/ouattaraab/Icon/internal/platform"
	"github.com/ouattaraab/Icon/internal/queue"
	"github.com/ouattaraab/Icon/internal/rules"
)

var requestLineTerminator = []byte("\r\n")
var headerBodySeparator = []byte("\r\n\r\n")

// pairLoop is the PAIR state: an HTTP/1.1 keep-alive loop over the already
// TLS-handshaken client/upstream pair. One iteration reads a full client
// request via the framer, evaluates it if it targets a known platform's API
// endpoint, forwards the raw bytes upstream regardless of outcome (except
// Blocked, which short-circuits with a block page), reads the matching
// response, evaluates it too, and forwards it back. Any I/O error or empty
// read ends the loop and both TLS sides are closed by the caller's defers.
func (s *Server) pairLoop(ctx context.Context, client, upstream *tls.Conn, host, plat string) {
	for {
		reqRaw, err := framer.ReadMessage(client)
		if err != nil || len(reqRaw) == 0 {
			return
		}

		path, _ := parseRequestPath(reqRaw)
		isAPI := plat != "" && platform.IsAPIEndpoint(path, plat)

		if isAPI {
			if blocked := s.evaluatePrompt(ctx, client, reqRaw, host, plat); blocked {
				return
			}
		}

		if _, err := upstream.Write(reqRaw); err != nil {
			return
		}

		respRaw, err := framer.ReadMessage(upstream)
		if err != nil || len(respRaw) == 0 {
			return
		}

		if isAPI {
			s.evaluateResponse(ctx, respRaw, host, plat)
		}

		if _, err := client.Write(respRaw); err != nil {
			return
		}
	}
}

// evaluatePrompt extracts and evaluates the request body's prompt text.
// It returns true when the rule engine blocked the request, in which case
// it has already written the block page to client and the PAIR loop must
// stop.
func (s *Server) evaluatePrompt(ctx context.Context, client *tls.Conn, reqRaw []byte, host, plat string) bool {
	body := messageBody(reqRaw)
	prompt, ok := platform.ExtractPrompt(body, plat)
	if !ok {
		return false
	}

	result := s.evaluator.Evaluate(prompt, rules.TargetPrompt)
	metrics.RuleOutcomes.WithLabelValues(string(result.Kind)).Inc()

	now := time.Now().UTC()
	switch result.Kind {
	case rules.OutcomeBlocked:
		client.Write(renderBlockPage(result.Message, result.RuleName))
		s.queue.Enqueue(ctx, queue.Event{
			EventType:     queue.TypeBlock,
			Platform:      plat,
			Domain:        host,
			PromptExcerpt: queue.Excerpt(prompt),
			RuleID:        result.RuleID,
			Severity:      "critical",
			OccurredAt:    now,
			CreatedAt:     now,
		})
		return true
	case rules.OutcomeAlerted:
		s.queue.Enqueue(ctx, queue.Event{
			EventType:     queue.TypeAlert,
			Platform:      plat,
			Domain:        host,
			PromptExcerpt: queue.Excerpt(prompt),
			RuleID:        result.RuleID,
			Severity:      string(result.Severity),
			OccurredAt:    now,
			CreatedAt:     now,
		})
	case rules.OutcomeLogged, rules.OutcomeNoMatch:
		s.queue.Enqueue(ctx, queue.Event{
			EventType:     queue.TypePrompt,
			Platform:      plat,
			Domain:        host,
			PromptExcerpt: queue.Excerpt(prompt),
			RuleID:        result.RuleID,
			Severity:      "info",
			OccurredAt:    now,
			CreatedAt:     now,
		})
	}
	return false
}

// evaluateResponse extracts and evaluates the response body's completion
// text. Responses are never blocked (spec §4.6 step 6: the bytes already
// left the wire to the model by the time a reply arrives) — only Alerted
// and Logged outcomes are recorded.
func (s *Server) evaluateResponse(ctx context.Context, respRaw []byte, host, plat string) {
	body := messageBody(respRaw)
	text, ok := platform.ExtractResponse(body, plat)
	if !ok {
		return
	}

	result := s.evaluator.Evaluate(text, rules.TargetResponse)
	metrics.RuleOutcomes.WithLabelValues(string(result.Kind)).Inc()

	now := time.Now().UTC()
	switch result.Kind {
	case rules.OutcomeAlerted:
		s.queue.Enqueue(ctx, queue.Event{
			EventType:       queue.TypeResponseAlert,
			Platform:        plat,
			Domain:          host,
			ResponseExcerpt: queue.Excerpt(text),
			RuleID:          result.RuleID,
			Severity:        string(result.Severity),
			OccurredAt:      now,
			CreatedAt:       now,
		})
	case rules.OutcomeLogged:
		s.queue.Enqueue(ctx, queue.Event{
			EventType:       queue.TypeResponse,
			Platform:        plat,
			Domain:          host,
			ResponseExcerpt: queue.Excerpt(text),
			RuleID:          result.RuleID,
			Severity:        "info",
			OccurredAt:      now,
			CreatedAt:       now,
		})
	}
}

// parseRequestPath pulls the request-target out of an HTTP/1.1 request
// line ("METHOD /path HTTP/1.1"), ignoring the query string.
func parseRequestPath(raw []byte) (string, bool) {
	lineEnd := bytes.Index(raw, requestLineTerminator)
	if lineEnd < 0 {
		lineEnd = len(raw)
	}
	fields := strings.Fields(string(raw[:lineEnd]))
	if len(fields) < 2 {
		return "", false
	}
	path := fields[1]
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path, true
}

// messageBody returns the bytes after the first blank line in a raw
// HTTP/1.1 message, i.e. the body with headers stripped.
func messageBody(raw []byte) []byte {
	idx := bytes.Index(raw, headerBodySeparator)
	if idx < 0 {
		return nil
	}
	return raw[idx+len(headerBodySeparator):]
}
