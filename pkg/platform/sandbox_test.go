// SPDX-License-Identifier: MPL-2.0

package platform

import (
	"errors"
	"slices"
	"testing"
)

// fakeLookups builds the env and stat functions detectSandboxFrom accepts,
// simulating a given sandbox environment without touching process state.
func fakeLookups(env map[string]string, files map[string]bool) (func(string) string, func(string) error) {
	lookupEnv := func(key string) string {
		return env[key]
	}
	stat := func(path string) error {
		if files[path] {
			return nil
		}
		return errors.New("no such file")
	}
	return lookupEnv, stat
}

func TestDetectSandboxFrom(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		env      map[string]string
		files    map[string]bool
		expected SandboxType
	}{
		{
			name:     "no sandbox indicators",
			expected: SandboxNone,
		},
		{
			name:     "flatpak info file present",
			files:    map[string]bool{"/.flatpak-info": true},
			expected: SandboxFlatpak,
		},
		{
			name:     "snap name set",
			env:      map[string]string{"SNAP_NAME": "servicebay"},
			expected: SandboxSnap,
		},
		{
			name:     "flatpak takes precedence over snap",
			env:      map[string]string{"SNAP_NAME": "servicebay"},
			files:    map[string]bool{"/.flatpak-info": true},
			expected: SandboxFlatpak,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			lookupEnv, stat := fakeLookups(tt.env, tt.files)
			result := detectSandboxFrom(lookupEnv, stat)
			if result != tt.expected {
				t.Errorf("detectSandboxFrom() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestSpawnCommandFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sandbox  SandboxType
		expected string
	}{
		{name: "no sandbox", sandbox: SandboxNone, expected: ""},
		{name: "flatpak", sandbox: SandboxFlatpak, expected: "flatpak-spawn"},
		{name: "snap", sandbox: SandboxSnap, expected: "snap"},
		{name: "unknown type", sandbox: SandboxType("bubblewrap"), expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := SpawnCommandFor(tt.sandbox)
			if result != tt.expected {
				t.Errorf("SpawnCommandFor(%q) = %q, want %q", tt.sandbox, result, tt.expected)
			}
		})
	}
}

func TestSpawnArgsFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sandbox  SandboxType
		expected []string
	}{
		{name: "no sandbox", sandbox: SandboxNone, expected: nil},
		{name: "flatpak", sandbox: SandboxFlatpak, expected: []string{"--host"}},
		{name: "snap", sandbox: SandboxSnap, expected: []string{"run", "--shell"}},
		{name: "unknown type", sandbox: SandboxType("bubblewrap"), expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := SpawnArgsFor(tt.sandbox)
			if !slices.Equal(result, tt.expected) {
				t.Errorf("SpawnArgsFor(%q) = %v, want %v", tt.sandbox, result, tt.expected)
			}
		})
	}
}

func TestDetectSandbox_Cached(t *testing.T) {
	t.Parallel()

	// The process-wide result is computed once; repeated calls must agree.
	first := DetectSandbox()
	second := DetectSandbox()

	if first != second {
		t.Errorf("DetectSandbox() not stable: first=%q, second=%q", first, second)
	}

	// Whatever was detected must map to a usable spawn pair: either both
	// empty (direct execution) or a non-empty command.
	if SpawnCommandFor(first) == "" && SpawnArgsFor(first) != nil {
		t.Errorf("spawn args %v without a spawn command", SpawnArgsFor(first))
	}
}

func TestSandboxTypeConstants(t *testing.T) {
	t.Parallel()

	types := []SandboxType{SandboxNone, SandboxFlatpak, SandboxSnap}
	seen := make(map[SandboxType]bool)

	for _, st := range types {
		if seen[st] {
			t.Errorf("duplicate SandboxType constant: %q", st)
		}
		seen[st] = true
	}

	// SandboxNone doubles as the "not sandboxed" zero value.
	if SandboxNone != "" {
		t.Errorf("SandboxNone should be empty string, got %q", SandboxNone)
	}
}
