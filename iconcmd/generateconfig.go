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

	"github.com/spf13/cobra"

	"github.com/ouattaraab/Icon/internal/config"
)

func newGenerateConfigCommand() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "generate-config",
		Short: "Writes a default config.toml to disk",
		Long: `Writes a config.toml (plain TOML, no comments) populated with spec-documented
defaults. Existing deployment-specific values (api.base_url,
api.enrollment_key, store.encryption_key_hex, and so on) still need to
be filled in by the operator before the agent can register.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := outPath
			if path == "" {
				path = config.DefaultConfigPath()
			}
			if err := config.WriteTemplate(path, config.Default()); err != nil {
				return fmt.Errorf("icon-agent: write config template: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default configuration to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "Path to write config.toml (default: platform-specific)")
	return cmd
}
