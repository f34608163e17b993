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

package iconcmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ouattaraab/Icon/internal/service"
)

func newInstallServiceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "install-service",
		Short: "Prints the steps to register icon-agent as an OS service",
		Long: `Prints the platform-appropriate sc.exe/launchctl/systemctl commands
to register icon-agent as a service. It does not run them: Icon doesn't
carry a dependency for managing Windows/launchd/systemd service units,
so registration stays an explicit operator (or installer-package) step.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			binaryPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("icon-agent: resolve binary path: %w", err)
			}
			service.PrintInstallGuidance(cmd.OutOrStdout(), binaryPath)
			return nil
		},
	}
}

func newUninstallServiceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall-service",
		Short: "Prints the steps to remove the icon-agent OS service",
		RunE: func(cmd *cobra.Command, args []string) error {
			service.PrintUninstallGuidance(cmd.OutOrStdout())
			return nil
		},
	}
}
