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

import "strings"

// hostPlatforms maps a known hostname to its platform identifier. This
// mirrors domainfilter's monitored-domain table but stays independent of
// it: identifying a platform from a host is a pure naming concern, while
// domainfilter additionally tracks blocked/monitored state and PAC output.
var hostPlatforms = map[string]string{
	"api.openai.com":                     ChatGPT,
	"chat.openai.com":                    ChatGPT,
	"chatgpt.com":                        ChatGPT,
	"claude.ai":                          Claude,
	"api.anthropic.com":                  Claude,
	"copilot.microsoft.com":              Copilot,
	"github.copilot.com":                 Copilot,
	"gemini.google.com":                  Gemini,
	"generativelanguage.googleapis.com":  Gemini,
	"huggingface.co":                     HuggingFace,
	"api.mistral.ai":                     Mistral,
	"chat.mistral.ai":                    Mistral,
	"api.perplexity.ai":                  Perplexity,
	"www.perplexity.ai":                  Perplexity,
}

// IdentifyPlatform maps host to a platform identifier, matching exact
// hostnames or any subdomain of a known host.
func IdentifyPlatform(host string) (string, bool) {
	if p, ok := hostPlatforms[host]; ok {
		return p, true
	}
	for d, p := range hostPlatforms {
		if strings.HasSuffix(host, "."+d) {
			return p, true
		}
	}
	return "", false
}
