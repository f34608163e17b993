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
	"bytes"
	"sort"
	"testing"
)

func TestRootCommandRegistersExpectedSubcommands(t *testing.T) {
	root := rootCommand()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	sort.Strings(names)

	want := []string{"generate-config", "install-service", "run", "uninstall-service"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got %v, want %v", names, want)
		}
	}
}

func TestGenerateConfigCommandWritesTemplate(t *testing.T) {
	root := rootCommand()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetArgs([]string{"generate-config", "--out", t.TempDir() + "/config.toml"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Len() == 0 {
		t.Fatal("expected confirmation output")
	}
}

func TestInstallServiceCommandPrintsGuidance(t *testing.T) {
	root := rootCommand()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetArgs([]string{"install-service"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Len() == 0 {
		t.Fatal("expected guidance output")
	}
}

func TestUninstallServiceCommandPrintsGuidance(t *testing.T) {
	root := rootCommand()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetArgs([]string{"uninstall-service"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Len() == 0 {
		t.Fatal("expected guidance output")
	}
}
