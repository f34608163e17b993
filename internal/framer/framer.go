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

// Package framer reads one complete HTTP/1.1 message (headers plus a
// Content-Length or chunked body) off a stream, without interpreting any
// semantics beyond those length rules: bytes are handed back verbatim so
// callers can forward them unmodified (spec C3).
package framer

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
)

// MaxMessageSize is the hard ceiling on a single HTTP message, per spec §4.3.
const MaxMessageSize = 16 * 1024 * 1024

// initialBufSize is the framer's starting read buffer; it doubles on demand.
const initialBufSize = 64 * 1024

// ErrMessageTooLarge is returned when a message would exceed MaxMessageSize.
var ErrMessageTooLarge = errors.New("framer: message too large")

var headerTerminator = []byte("\r\n\r\n")

// ReadMessage reads one HTTP/1.1 message from r: headers up to and
// including \r\n\r\n, then either exactly Content-Length body bytes, or
// the chunked body through its terminating 0\r\n\r\n, or nothing more if
// neither header is present. A short read (EOF before completion) returns
// whatever was read so far rather than an error — callers treat that as
// connection close (spec §4.3).
func ReadMessage(r io.Reader) ([]byte, error) {
	buf := make([]byte, initialBufSize)
	total := 0

	for {
		if total >= MaxMessageSize {
			return nil, ErrMessageTooLarge
		}
		if total >= len(buf) {
			buf = grow(buf)
		}

		n, err := r.Read(buf[total:])
		total += n

		if headerEnd := findHeaderEnd(buf[:total]); headerEnd >= 0 {
			return readBody(r, buf, total, headerEnd)
		}

		if err != nil {
			if err == io.EOF {
				return buf[:total], nil
			}
			return nil, err
		}
	}
}

func readBody(r io.Reader, buf []byte, total, headerEnd int) ([]byte, error) {
	bodyStart := headerEnd + 4
	headerSection := string(buf[:headerEnd])

	if cl, ok := extractContentLength(headerSection); ok {
		expectedTotal := bodyStart + cl
		if expectedTotal > MaxMessageSize {
			return nil, ErrMessageTooLarge
		}
		for total < expectedTotal {
			if total >= len(buf) {
				grown := grow(buf)
				if len(grown) > expectedTotal+1024 {
					grown = grown[:expectedTotal+1024]
				}
				buf = grown
			}
			n, err := r.Read(buf[total:])
			total += n
			if err != nil {
				if err == io.EOF {
					break
				}
				return nil, err
			}
			if n == 0 {
				break
			}
		}
		if total > expectedTotal {
			total = expectedTotal
		}
		return buf[:total], nil
	}

	if isChunked(headerSection) {
		for {
			if total >= MaxMessageSize {
				return nil, ErrMessageTooLarge
			}
			if chunkedComplete(buf[bodyStart:total]) {
				return buf[:total], nil
			}
			if total >= len(buf) {
				buf = grow(buf)
			}
			n, err := r.Read(buf[total:])
			total += n
			if err != nil {
				if err == io.EOF {
					return buf[:total], nil
				}
				return nil, err
			}
		}
	}

	// No Content-Length, not chunked: headers-only message (GET/HEAD, or
	// the connection will signal end-of-body by closing).
	return buf[:total], nil
}

func grow(buf []byte) []byte {
	next := make([]byte, len(buf)*2)
	copy(next, buf)
	return next
}

func findHeaderEnd(data []byte) int {
	return bytes.Index(data, headerTerminator)
}

// extractContentLength case-insensitively looks for a Content-Length
// header and parses its value.
func extractContentLength(headers string) (int, bool) {
	for _, line := range strings.Split(headers, "\r\n") {
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(line[:idx]), "content-length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(line[idx+1:]))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func isChunked(headers string) bool {
	return strings.Contains(strings.ToLower(headers), "transfer-encoding: chunked")
}

// chunkedComplete reports whether the terminating "0\r\n\r\n" final chunk
// appears anywhere in the chunked body read so far.
func chunkedComplete(body []byte) bool {
	return bytes.Contains(body, []byte("0\r\n\r\n"))
}
