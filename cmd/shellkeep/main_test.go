package main

import (
	"slices"
	"testing"
)

func TestArgv0Alias(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{base: "skswitch", want: "switch"},
		{base: "shellkeep", want: ""},
		{base: "sk", want: ""},
	}
	for _, tc := range tests {
		if got := argv0Alias(tc.base); got != tc.want {
			t.Fatalf("argv0Alias(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
}

func TestApplyArgv0Alias(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{name: "empty", args: nil, want: nil},
		{name: "no-alias", args: []string{"shellkeep", "list"}, want: []string{"shellkeep", "list"}},
		{name: "skswitch", args: []string{"/usr/local/bin/skswitch", "work"}, want: []string{"/usr/local/bin/skswitch", "switch", "work"}},
	}
	for _, tc := range tests {
		if got := applyArgv0Alias(tc.args); !slices.Equal(got, tc.want) {
			t.Fatalf("%s: applyArgv0Alias = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestConfigPathFromArgs(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{args: []string{"shellkeep", "list"}, want: ""},
		{args: []string{"shellkeep", "-c", "/tmp/a.yaml", "list"}, want: "/tmp/a.yaml"},
		{args: []string{"shellkeep", "--config", "/tmp/b.yaml"}, want: "/tmp/b.yaml"},
		{args: []string{"shellkeep", "--config=/tmp/c.yaml", "list"}, want: "/tmp/c.yaml"},
		{args: []string{"shellkeep", "-c/tmp/d.yaml"}, want: "/tmp/d.yaml"},
		{args: []string{"shellkeep", "attach", "--", "-c", "x"}, want: ""},
	}
	for _, tc := range tests {
		if got := configPathFromArgs(tc.args); got != tc.want {
			t.Fatalf("configPathFromArgs(%q) = %q, want %q", tc.args, got, tc.want)
		}
	}
}

func TestApplyConfigAliases(t *testing.T) {
	aliases := map[string]string{
		"sw":   "switch --confirm",
		"a":    "attach --force",
		"list": "kill everything",
	}
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{name: "expands", args: []string{"shellkeep", "sw", "work"}, want: []string{"shellkeep", "switch", "--confirm", "work"}},
		{name: "after-global-flags", args: []string{"shellkeep", "-s", "/tmp/s.sock", "a", "work"}, want: []string{"shellkeep", "-s", "/tmp/s.sock", "attach", "--force", "work"}},
		{name: "builtin-wins", args: []string{"shellkeep", "list"}, want: []string{"shellkeep", "list"}},
		{name: "unknown", args: []string{"shellkeep", "nope"}, want: []string{"shellkeep", "nope"}},
		{name: "flags-only", args: []string{"shellkeep", "--help"}, want: []string{"shellkeep", "--help"}},
	}
	for _, tc := range tests {
		got := applyConfigAliases(tc.args, newRootCmd(), aliases)
		if !slices.Equal(got, tc.want) {
			t.Fatalf("%s: applyConfigAliases = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestRootHasCommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	for _, want := range []string{"daemon", "attach", "detach", "switch", "list", "kill", "config", "doctor", "version"} {
		if !slices.Contains(names, want) {
			t.Fatalf("root command is missing %q (have %v)", want, names)
		}
	}
}

func TestSwitchFlags(t *testing.T) {
	root := newRootCmd()
	cmd, _, err := root.Find([]string{"switch"})
	if err != nil {
		t.Fatalf("find switch: %v", err)
	}
	for _, flag := range []string{"confirm", "force", "ttl", "cmd"} {
		if cmd.Flags().Lookup(flag) == nil {
			t.Fatalf("switch is missing --%s", flag)
		}
	}
}
