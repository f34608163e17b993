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

// Package iconcmd implements the icon-agent command line: a small cobra
// command tree rather than caddy's module-aware command factory, since
// Icon has no plugin/module system for subcommands to discover.
package iconcmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ouattaraab/Icon/internal/config"
	"github.com/ouattaraab/Icon/internal/orchestrator"
	"github.com/ouattaraab/Icon/internal/service"
)

const fullDocsFooter = `Icon intercepts outbound HTTPS traffic to AI platforms, evaluates
prompts and responses against DLP rules, and reports matches to the
control plane. Run 'icon-agent run' to start the agent in the
foreground; see 'icon-agent <command> --help' for subcommand details.`

// Main is the entry point called from cmd/icon-agent/main.go. It builds
// the root command, executes it against os.Args, and translates a
// command error into a process exit code.
//
// A service manager's unit/task definition invokes the binary directly
// as "icon-agent --service" with no subcommand (see service's install
// guidance), so that case is detected and routed to run before cobra
// ever sees it.
func Main() {
	if service.FromServiceManager(os.Args[1:]) {
		if err := runAgent(context.Background(), config.DefaultConfigPath()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "icon-agent",
		Short:         "Icon is an endpoint DLP agent for AI platform traffic",
		Long:          "Icon is an endpoint DLP agent for AI platform traffic.\n\n" + fullDocsFooter,
		Version:       orchestrator.AgentVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		// No subcommand: run the agent with the platform-default config,
		// the same as 'icon-agent run'.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), config.DefaultConfigPath())
		},
	}
	root.AddCommand(
		newRunCommand(),
		newGenerateConfigCommand(),
		newInstallServiceCommand(),
		newUninstallServiceCommand(),
	)
	return root
}
