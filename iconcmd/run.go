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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ouattaraab/Icon/internal/config"
	"github.com/ouattaraab/Icon/internal/logging"
	"github.com/ouattaraab/Icon/internal/orchestrator"
)

func newRunCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the Icon agent in the foreground",
		Long: `Runs the Icon agent in the foreground: loads config, bootstraps
credentials with the control plane if needed, and starts the MITM
interceptor, clipboard monitor, event queue, and rule sync loops. Blocks
until interrupted (SIGINT/SIGTERM), then drains in-flight connections
before exiting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultConfigPath()
			}
			return runAgent(cmd.Context(), path)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config.toml (default: platform-specific)")
	// --service is accepted here too so a unit file that names this
	// subcommand explicitly still parses; the flag itself carries no
	// additional behavior beyond having already been the launch marker.
	cmd.Flags().Bool("service", false, "Marks this process as launched by an OS service manager")

	return cmd
}

// runAgent loads configuration, builds the agent, and blocks until an
// interrupt or terminate signal arrives.
func runAgent(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("icon-agent: load config: %w", err)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("icon-agent: build logger: %w", err)
	}
	defer log.Sync()

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	agent, err := orchestrator.New(runCtx, cfg, log)
	if err != nil {
		return fmt.Errorf("icon-agent: start: %w", err)
	}

	return agent.Run(runCtx)
}
