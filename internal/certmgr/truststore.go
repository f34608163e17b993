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

package certmgr

import (
	"fmt"

	"github.com/smallstep/truststore"
	"go.uber.org/zap"
)

// InstallInTrustStore adds the CA certificate to the OS trust store (and
// Firefox's NSS store, which many distros keep separate from the system
// store) so intercepted connections validate without a browser warning.
func (m *Manager) InstallInTrustStore() error {
	if err := truststore.Install(m.caCert, truststore.WithFirefox(), truststore.WithJava()); err != nil {
		return fmt.Errorf("certmgr: install CA in trust store: %w", err)
	}
	m.log.Info("installed CA certificate in system trust store", zap.String("subject", m.caCert.Subject.CommonName))
	return nil
}

// UninstallFromTrustStore removes the CA certificate, used during a clean
// agent uninstall so no orphaned trust anchor survives.
func (m *Manager) UninstallFromTrustStore() error {
	if err := truststore.Uninstall(m.caCert, truststore.WithFirefox(), truststore.WithJava()); err != nil {
		return fmt.Errorf("certmgr: uninstall CA from trust store: %w", err)
	}
	m.log.Info("removed CA certificate from system trust store")
	return nil
}
