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

// Package update records intent when the control plane reports a newer
// agent version. Applying that update — downloading and swapping the
// running binary — is an external updater's job; this package only
// surfaces the decision to the log (spec: update check dedup).
package update

import (
	"context"

	"go.uber.org/zap"

	"github.com/ouattaraab/Icon/internal/apiclient"
)

// Checker looks up release metadata for a reported version, for logging
// purposes only — it never downloads or applies anything.
type Checker interface {
	CheckUpdate(ctx context.Context, currentVersion string) (*apiclient.UpdateInfo, error)
}

// UpdateChecker is invoked by the heartbeat loop when a new version is
// reported. It is deliberately inert beyond logging: the actual binary
// swap belongs to an out-of-process updater component.
type UpdateChecker struct {
	checker        Checker
	currentVersion string
	log            *zap.Logger
}

// New constructs an UpdateChecker for the agent's currentVersion.
func New(checker Checker, currentVersion string, log *zap.Logger) *UpdateChecker {
	return &UpdateChecker{checker: checker, currentVersion: currentVersion, log: log}
}

// Notify records that version was reported available. It best-effort
// fetches release metadata (download URL, checksum) purely to log it for
// operators; a lookup failure doesn't block anything since no apply is
// attempted here.
func (u *UpdateChecker) Notify(ctx context.Context, version string) {
	u.log.Info("update available", zap.String("current_version", u.currentVersion), zap.String("available_version", version))

	info, err := u.checker.CheckUpdate(ctx, u.currentVersion)
	if err != nil {
		u.log.Warn("update metadata lookup failed", zap.Error(err))
		return
	}
	if info == nil {
		return
	}
	u.log.Info("update release metadata",
		zap.String("version", info.Version),
		zap.String("download_url", info.DownloadURL),
		zap.String("checksum", info.Checksum))
}
