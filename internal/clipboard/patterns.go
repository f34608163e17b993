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

package clipboard

import (
	"regexp"

	"go.uber.org/zap"
)

// builtinPattern is one fixed, always-on DLP signature evaluated
// independently of any server-delivered rule.
type builtinPattern struct {
	name        string
	description string
	expr        string
}

var builtinPatternDefs = []builtinPattern{
	{
		name:        "credit_card",
		description: "Payment card number",
		expr:        `\b(?:\d[ -]?){13,19}\b`,
	},
	{
		name:        "national_id",
		description: "National identification number",
		expr:        `\b\d{3}[- ]?\d{2}[- ]?\d{4}\b`,
	},
	{
		name:        "iban",
		description: "IBAN bank account number",
		expr:        `\b[A-Z]{2}\d{2}[A-Z0-9]{10,30}\b`,
	},
	{
		name:        "bulk_email",
		description: "Multiple email addresses",
		expr:        `[\w.+-]+@[\w-]+\.[\w.-]+`,
	},
	{
		name:        "phone",
		description: "Phone number",
		expr:        `\b(?:\+\d{1,3}[- ]?)?\(?\d{3}\)?[- ]?\d{3}[- ]?\d{4}\b`,
	},
	{
		name:        "api_key",
		description: "API key, token, or password assignment",
		expr:        `(?i)\b(api[_-]?key|token|secret|password)\b\s*[:=]\s*['"]?[A-Za-z0-9_\-/+]{8,}['"]?`,
	},
	{
		name:        "pem_private_key",
		description: "PEM private key header",
		expr:        `-----BEGIN (?:RSA |EC |OPENSSH )?PRIVATE KEY-----`,
	},
	{
		name:        "aws_access_key",
		description: "AWS access key ID",
		expr:        `\bAKIA[0-9A-Z]{16}\b`,
	},
}

// compiledPattern pairs a builtinPattern with its compiled form.
type compiledPattern struct {
	builtinPattern
	re *regexp.Regexp
}

// compileBuiltinPatterns compiles every entry in builtinPatternDefs once;
// a pattern that fails to compile is skipped with a logged warning rather
// than aborting startup (spec §4.7).
func compileBuiltinPatterns(log *zap.Logger) []compiledPattern {
	compiled := make([]compiledPattern, 0, len(builtinPatternDefs))
	for _, def := range builtinPatternDefs {
		re, err := regexp.Compile(def.expr)
		if err != nil {
			log.Warn("skipping built-in DLP pattern that failed to compile",
				zap.String("pattern", def.name), zap.Error(err))
			continue
		}
		compiled = append(compiled, compiledPattern{builtinPattern: def, re: re})
	}
	return compiled
}

// DLPMatch is one built-in pattern's findings within a single scan.
type DLPMatch struct {
	Pattern     string   `json:"pattern"`
	Description string   `json:"description"`
	Count       int      `json:"count"`
	Samples     []string `json:"samples,omitempty"`
}

const maxSamplesPerMatch = 3

// scanBuiltins runs every compiled pattern against content and returns one
// DLPMatch per pattern with at least one hit.
func scanBuiltins(patterns []compiledPattern, content string) []DLPMatch {
	var matches []DLPMatch
	for _, p := range patterns {
		found := p.re.FindAllString(content, -1)
		if len(found) == 0 {
			continue
		}
		m := DLPMatch{Pattern: p.name, Description: p.description, Count: len(found)}
		for i, s := range found {
			if i >= maxSamplesPerMatch {
				break
			}
			m.Samples = append(m.Samples, redact(s))
		}
		matches = append(matches, m)
	}
	return matches
}

// redact shows the first 4 characters of s and replaces the rest with
// asterisks (spec §4.7).
func redact(s string) string {
	const visible = 4
	if len(s) <= visible {
		return s
	}
	return s[:visible] + repeatStar(len(s)-visible)
}

func repeatStar(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '*'
	}
	return string(b)
}
