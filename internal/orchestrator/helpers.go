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

package orchestrator

import (
	"runtime"
	"time"
)

// secondsOr converts a config seconds value to a time.Duration, or
// returns fallback unchanged if secs is not positive.
func secondsOr(secs int, fallback time.Duration) time.Duration {
	if secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

// daysOr converts a config days value to a time.Duration, or returns
// fallback unchanged if days is not positive.
func daysOr(days int, fallback time.Duration) time.Duration {
	if days <= 0 {
		return fallback
	}
	return time.Duration(days) * 24 * time.Hour
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func osName() string {
	return runtime.GOOS
}
