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

// Package service distinguishes an agent launched interactively from one
// launched by the OS service manager, and prints the platform-appropriate
// registration guidance for install-service/uninstall-service. Actually
// registering or removing the OS service (sc.exe, launchctl) is an
// external installer's job, not this package's (spec: service subcommand
// markers).
package service

import (
	"fmt"
	"io"
	"runtime"
)

// FromServiceManager reports whether the process was launched with the
// --service marker flag, i.e. started by the OS service manager rather
// than a human at a terminal.
func FromServiceManager(args []string) bool {
	for _, a := range args {
		if a == "--service" {
			return true
		}
	}
	return false
}

// PrintInstallGuidance writes the platform-specific steps an operator
// must run to register icon-agent as an OS service. No service manager
// API is called here.
func PrintInstallGuidance(w io.Writer, binaryPath string) {
	switch runtime.GOOS {
	case "windows":
		fmt.Fprintf(w, "Icon does not register Windows services itself.\n"+
			"Run as an administrator:\n"+
			"  sc.exe create IconAgent binPath= \"%s --service\" start= auto\n"+
			"  sc.exe start IconAgent\n", binaryPath)
	case "darwin":
		fmt.Fprintf(w, "Icon does not register launchd services itself.\n"+
			"Install a LaunchDaemon plist pointing at:\n"+
			"  %s --service\n"+
			"then: launchctl load /Library/LaunchDaemons/com.icon.agent.plist\n", binaryPath)
	default:
		fmt.Fprintf(w, "Icon does not register systemd units itself.\n"+
			"Install a unit whose ExecStart is:\n"+
			"  %s --service\n"+
			"then: systemctl enable --now icon-agent\n", binaryPath)
	}
}

// PrintUninstallGuidance writes the platform-specific steps to remove the
// OS service registration.
func PrintUninstallGuidance(w io.Writer) {
	switch runtime.GOOS {
	case "windows":
		fmt.Fprintln(w, "Run as an administrator:\n  sc.exe stop IconAgent\n  sc.exe delete IconAgent")
	case "darwin":
		fmt.Fprintln(w, "Run:\n  launchctl unload /Library/LaunchDaemons/com.icon.agent.plist\n  rm /Library/LaunchDaemons/com.icon.agent.plist")
	default:
		fmt.Fprintln(w, "Run:\n  systemctl disable --now icon-agent\n  rm /etc/systemd/system/icon-agent.service")
	}
}
