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

// Package platform identifies which AI platform a request targets and
// extracts the human-readable prompt/response text from that platform's
// JSON or SSE wire format (spec C4).
package platform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	ChatGPT     = "chatgpt"
	Claude      = "claude"
	Copilot     = "copilot"
	Gemini      = "gemini"
	HuggingFace = "huggingface"
	Mistral     = "mistral"
	Perplexity  = "perplexity"
)

// rawFallbackLimit bounds how much of an unrecognized body is surfaced
// when no schema-aware extraction path applies.
const rawFallbackLimit = 5 * 1024

// apiPathsByPlatform lists path fragments that mark the platform's prompt
// or completion endpoint, as opposed to asset/telemetry/auth traffic that
// happens to share the domain; a path matches if it contains any of them.
var apiPathsByPlatform = map[string][]string{
	ChatGPT:     {"/v1/chat/completions", "/backend-api/conversation", "/v1/completions"},
	Claude:      {"/v1/messages", "/v1/complete", "/api/organizations", "/api/append_message"},
	Copilot:     {"/v1/chat/completions", "/copilot/chat"},
	Gemini:      {"/v1beta/models", "/v1/models", "/generateContent", "/streamGenerateContent"},
	HuggingFace: {"/models", "/api/inference"},
	Mistral:     {"/v1/chat/completions"},
	Perplexity:  {"/chat/completions"},
}

// IsAPIEndpoint reports whether path looks like the platform's prompt or
// completion endpoint, per apiPathsByPlatform.
func IsAPIEndpoint(path, platform string) bool {
	prefixes, ok := apiPathsByPlatform[platform]
	if !ok {
		return false
	}
	for _, p := range prefixes {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

// openAIChatRequest matches the OpenAI-family (ChatGPT, Claude, Copilot,
// Mistral, Perplexity) chat-completions request schema.
type openAIChatRequest struct {
	Messages []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"messages"`
}

// openAIChatResponse matches the OpenAI-family non-streaming response schema.
type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type geminiRequest struct {
	Contents []struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// ExtractPrompt pulls the user-facing prompt text out of a request body
// for the given platform, trying the platform's native schema first and
// falling back to a generic field scan.
func ExtractPrompt(body []byte, plat string) (string, bool) {
	switch plat {
	case ChatGPT, Claude, Copilot, Mistral, Perplexity:
		if text, ok := extractOpenAIPrompt(body); ok {
			return text, true
		}
	case Gemini:
		if text, ok := extractGeminiPrompt(body); ok {
			return text, true
		}
	}
	return genericFieldScan(body, "prompt", "content", "input", "text", "query", "question")
}

// extractOpenAIPrompt walks messages[] and returns the last entry whose
// role is "user" (spec §4.4); system/assistant history is not surfaced.
func extractOpenAIPrompt(body []byte) (string, bool) {
	var req openAIChatRequest
	if err := json.Unmarshal(body, &req); err != nil || len(req.Messages) == 0 {
		return "", false
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		m := req.Messages[i]
		if m.Role != "user" {
			continue
		}
		return contentToText(m.Content)
	}
	return "", false
}

// contentToText stringifies a message's content field, which may be a
// plain string, a non-string scalar (number/bool), or a list of
// multi-part content blocks (the "text" part of each is concatenated).
func contentToText(content any) (string, bool) {
	switch c := content.(type) {
	case string:
		if c == "" {
			return "", false
		}
		return c, true
	case []any:
		var sb strings.Builder
		for _, part := range c {
			if pm, ok := part.(map[string]any); ok {
				if txt, ok := pm["text"].(string); ok {
					sb.WriteString(txt)
				}
			}
		}
		if sb.Len() == 0 {
			return "", false
		}
		return sb.String(), true
	case float64, bool:
		return fmt.Sprint(c), true
	default:
		return "", false
	}
}

func extractGeminiPrompt(body []byte) (string, bool) {
	var req geminiRequest
	if err := json.Unmarshal(body, &req); err != nil || len(req.Contents) == 0 {
		return "", false
	}
	var sb strings.Builder
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			sb.WriteString(p.Text)
		}
	}
	text := sb.String()
	if text == "" {
		return "", false
	}
	return text, true
}

// ExtractResponse pulls the model's reply text out of a response body,
// handling both a single JSON document and a Server-Sent Events stream of
// incremental "data: {...}" frames terminated by "data: [DONE]".
func ExtractResponse(body []byte, plat string) (string, bool) {
	if looksLikeSSE(body) {
		return extractSSEResponse(body, plat)
	}

	switch plat {
	case ChatGPT, Claude, Copilot, Mistral, Perplexity:
		if text, ok := extractOpenAIResponse(body); ok {
			return text, true
		}
	case Gemini:
		if text, ok := extractGeminiResponse(body); ok {
			return text, true
		}
	}

	if text, ok := genericFieldScan(body, "content", "text", "output", "response"); ok {
		return text, true
	}

	return rawFallback(body)
}

func looksLikeSSE(body []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(body), []byte("data:")) || bytes.Contains(body, []byte("\ndata:"))
}

func extractOpenAIResponse(body []byte) (string, bool) {
	var resp openAIChatResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Choices) == 0 {
		return "", false
	}
	c := resp.Choices[0]
	if c.Message.Content != "" {
		return c.Message.Content, true
	}
	if c.Delta.Content != "" {
		return c.Delta.Content, true
	}
	return "", false
}

func extractGeminiResponse(body []byte) (string, bool) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Candidates) == 0 {
		return "", false
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	if sb.Len() == 0 {
		return "", false
	}
	return sb.String(), true
}

// extractSSEResponse reassembles a streamed completion by concatenating
// each "data: {...}" frame's incremental delta, stopping at "[DONE]".
func extractSSEResponse(body []byte, plat string) (string, bool) {
	var sb strings.Builder
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			break
		}
		if text, ok := extractOpenAIResponse([]byte(payload)); ok {
			sb.WriteString(text)
			continue
		}
		if text, ok := extractGeminiResponse([]byte(payload)); ok {
			sb.WriteString(text)
		}
	}
	if sb.Len() == 0 {
		return "", false
	}
	return sb.String(), true
}

// genericFieldScan does a schema-agnostic top-level-key scan for any of
// candidateKeys, used when a platform's own schema didn't match (a new or
// unrecognized endpoint shape).
func genericFieldScan(body []byte, candidateKeys ...string) (string, bool) {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return "", false
	}
	for _, key := range candidateKeys {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// rawFallback surfaces a bounded prefix of the raw body when no schema
// could be recognized at all, rather than losing the traffic entirely.
func rawFallback(body []byte) (string, bool) {
	if len(body) == 0 {
		return "", false
	}
	if len(body) > rawFallbackLimit {
		body = body[:rawFallbackLimit]
	}
	return string(body), true
}
