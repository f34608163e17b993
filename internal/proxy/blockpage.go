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
	"fmt"
	"strings"
)

const blockPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8">
    <title>Icon - Request Blocked</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
            display: flex; justify-content: center; align-items: center;
            min-height: 100vh; margin: 0;
            background: linear-gradient(135deg, #1a1a2e 0%, #16213e 100%);
            color: #e0e0e0;
        }
        .container {
            text-align: center; padding: 3rem;
            background: rgba(255,255,255,0.05);
            border-radius: 16px; border: 1px solid rgba(255,255,255,0.1);
            max-width: 500px;
        }
        .icon { font-size: 4rem; margin-bottom: 1rem; }
        h1 { color: #e74c3c; font-size: 1.5rem; margin-bottom: 0.5rem; }
        p { color: #bbb; line-height: 1.6; }
        .rule { color: #f39c12; font-weight: 600; margin-top: 1rem; }
    </style>
</head>
<body>
    <div class="container">
        <div class="icon">&#128737;</div>
        <h1>This request was blocked by Icon</h1>
        <p>%s</p>
        <p class="rule">Rule: %s</p>
    </div>
</body>
</html>`

// htmlEscape replaces the handful of characters that matter for safely
// embedding untrusted message/rule-name text inside the page body.
func htmlEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
	)
	return r.Replace(s)
}

// renderBlockPage fills the block page template and wraps it in a full
// HTTP/1.1 403 response, ready to write directly to a TLS connection.
func renderBlockPage(message, ruleName string) []byte {
	if message == "" {
		message = "This content violates your organization's data policy."
	}
	if ruleName == "" {
		ruleName = "unnamed"
	}
	body := fmt.Sprintf(blockPageTemplate, htmlEscape(message), htmlEscape(ruleName))

	resp := fmt.Sprintf(
		"HTTP/1.1 403 Forbidden\r\n"+
			"Content-Type: text/html; charset=utf-8\r\n"+
			"Content-Length: %d\r\n"+
			"Connection: close\r\n"+
			"X-Icon-Blocked: true\r\n"+
			"\r\n%s",
		len(body), body)
	return []byte(resp)
}
