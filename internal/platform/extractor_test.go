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

package platform

import "testing"

func TestIdentifyPlatform(t *testing.T) {
	if p, ok := IdentifyPlatform("api.openai.com"); !ok || p != ChatGPT {
		t.Fatalf("got %q %v", p, ok)
	}
	if p, ok := IdentifyPlatform("foo.claude.ai"); !ok || p != Claude {
		t.Fatalf("expected subdomain match, got %q %v", p, ok)
	}
	if _, ok := IdentifyPlatform("example.com"); ok {
		t.Fatal("expected no match")
	}
}

func TestIsAPIEndpoint(t *testing.T) {
	if !IsAPIEndpoint("/v1/chat/completions", ChatGPT) {
		t.Fatal("expected match")
	}
	if IsAPIEndpoint("/static/app.js", ChatGPT) {
		t.Fatal("expected no match for asset path")
	}
	if IsAPIEndpoint("/v1/chat/completions", "unknown-platform") {
		t.Fatal("expected no match for unknown platform")
	}
}

func TestExtractPromptOpenAI(t *testing.T) {
	body := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"what is the capital of France?"}]}`)
	text, ok := ExtractPrompt(body, ChatGPT)
	if !ok || text != "what is the capital of France?" {
		t.Fatalf("got %q %v", text, ok)
	}
}

func TestExtractPromptOpenAIMultipart(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":[{"type":"text","text":"hello "},{"type":"text","text":"world"}]}]}`)
	text, ok := ExtractPrompt(body, ChatGPT)
	if !ok || text != "hello world" {
		t.Fatalf("got %q %v", text, ok)
	}
}

func TestExtractPromptOpenAITakesLastUserMessageOnly(t *testing.T) {
	body := []byte(`{"messages":[
		{"role":"system","content":"You are helpful"},
		{"role":"user","content":"first question"},
		{"role":"assistant","content":"first answer"},
		{"role":"user","content":"Génère un résumé"}
	]}`)
	text, ok := ExtractPrompt(body, ChatGPT)
	if !ok || text != "Génère un résumé" {
		t.Fatalf("got %q %v", text, ok)
	}
}

func TestExtractPromptClaudeUsesOpenAIFamilySchema(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":"translate this"}]}`)
	text, ok := ExtractPrompt(body, Claude)
	if !ok || text != "translate this" {
		t.Fatalf("got %q %v", text, ok)
	}
}

func TestExtractResponseClaudeUsesOpenAIFamilySchema(t *testing.T) {
	body := []byte(`{"choices":[{"message":{"content":"une réponse"}}]}`)
	text, ok := ExtractResponse(body, Claude)
	if !ok || text != "une réponse" {
		t.Fatalf("got %q %v", text, ok)
	}
}

func TestExtractPromptGenericFallbackAcceptsAllSixKeys(t *testing.T) {
	for _, key := range []string{"prompt", "content", "input", "text", "query", "question"} {
		body := []byte(`{"` + key + `":"value for ` + key + `"}`)
		text, ok := ExtractPrompt(body, "unknown")
		if !ok || text != "value for "+key {
			t.Fatalf("key %q: got %q %v", key, text, ok)
		}
	}
}

func TestExtractPromptGemini(t *testing.T) {
	body := []byte(`{"contents":[{"parts":[{"text":"summarize this document"}]}]}`)
	text, ok := ExtractPrompt(body, Gemini)
	if !ok || text != "summarize this document" {
		t.Fatalf("got %q %v", text, ok)
	}
}

func TestExtractPromptGenericFallback(t *testing.T) {
	body := []byte(`{"prompt":"generic schema prompt"}`)
	text, ok := ExtractPrompt(body, "unknown")
	if !ok || text != "generic schema prompt" {
		t.Fatalf("got %q %v", text, ok)
	}
}

func TestExtractResponseOpenAI(t *testing.T) {
	body := []byte(`{"choices":[{"message":{"content":"Paris is the capital of France."}}]}`)
	text, ok := ExtractResponse(body, ChatGPT)
	if !ok || text != "Paris is the capital of France." {
		t.Fatalf("got %q %v", text, ok)
	}
}

func TestExtractResponseGemini(t *testing.T) {
	body := []byte(`{"candidates":[{"content":{"parts":[{"text":"a summary"}]}}]}`)
	text, ok := ExtractResponse(body, Gemini)
	if !ok || text != "a summary" {
		t.Fatalf("got %q %v", text, ok)
	}
}

func TestExtractResponseSSEStream(t *testing.T) {
	body := []byte("data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
		"data: [DONE]\n\n")
	text, ok := ExtractResponse(body, ChatGPT)
	if !ok || text != "Hello" {
		t.Fatalf("got %q %v", text, ok)
	}
}

func TestExtractResponseRawFallback(t *testing.T) {
	body := []byte("not json at all, just raw text reply")
	text, ok := ExtractResponse(body, "unknown")
	if !ok || text != string(body) {
		t.Fatalf("got %q %v", text, ok)
	}
}

func TestExtractResponseEmptyBody(t *testing.T) {
	if _, ok := ExtractResponse(nil, "unknown"); ok {
		t.Fatal("expected no extraction from empty body")
	}
}
