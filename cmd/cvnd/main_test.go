package main

import (
	"path/filepath"
	"testing"
)

func TestResolveGenesisPath(t *testing.T) {
	env := map[string]string{}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	cfgFile := filepath.Join("etc", "cvn", "config.toml")

	if got := resolveGenesisPath("", cfgFile, "genesis.yaml", lookup); got != filepath.Join("etc", "cvn", "genesis.yaml") {
		t.Fatalf("config relative path: got %q", got)
	}
	env[genesisPathEnv] = "/srv/genesis.yaml"
	if got := resolveGenesisPath("", cfgFile, "genesis.yaml", lookup); got != "/srv/genesis.yaml" {
		t.Fatalf("env override: got %q", got)
	}
	if got := resolveGenesisPath("./mine.yaml", cfgFile, "genesis.yaml", lookup); got != "./mine.yaml" {
		t.Fatalf("flag override: got %q", got)
	}
}
