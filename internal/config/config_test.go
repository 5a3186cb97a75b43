package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadTOMLWithDefaults(t *testing.T) {
	path := writeConfig(t, "supervisord.toml", `
network = "preprod"
data_dir = "/var/lib/peace"

[backend]
dir = "/opt/backend"
args = ["dist/index.js"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Network != NetworkPreprod {
		t.Fatalf("network = %q", cfg.Network)
	}
	if cfg.OgmiosPort != 1337 || cfg.KupoPort != 1442 {
		t.Fatalf("default ports not applied: %d %d", cfg.OgmiosPort, cfg.KupoPort)
	}
	if cfg.Backend.Program != "node" || cfg.Backend.Port != 3001 {
		t.Fatalf("backend defaults not applied: %+v", cfg.Backend)
	}
}

func TestLoadRejectsUnknownNetwork(t *testing.T) {
	path := writeConfig(t, "bad.toml", `
network = "testnet-magic-42"
data_dir = "/tmp/x"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown network")
	}
}

func TestLoadRequiresDataDir(t *testing.T) {
	path := writeConfig(t, "nodata.toml", `network = "preprod"`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing data_dir")
	}
}

func TestLoadUnparseableFile(t *testing.T) {
	path := writeConfig(t, "broken.toml", `network = [unterminated`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverridesNetwork(t *testing.T) {
	path := writeConfig(t, "env.toml", `
network = "preprod"
data_dir = "/tmp/data"
`)
	t.Setenv("SUPERVISORD_NETWORK", "mainnet")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Network != NetworkMainnet {
		t.Fatalf("env override ignored: %q", cfg.Network)
	}
}

func TestPathLayout(t *testing.T) {
	cfg := &Config{Network: NetworkPreprod, DataDir: "/data"}
	cfg.applyDefaults()
	cases := map[string]string{
		cfg.ChainDataDir():    "/data/preprod",
		cfg.NodeDBDir():       "/data/preprod/node-db",
		cfg.NodeDatabaseDir(): "/data/preprod/node-db/db",
		cfg.KupoDBDir():       "/data/preprod/kupo-db",
		cfg.ConfigDir():       "/data/preprod/config",
		cfg.SocketPath():      "/data/preprod/node.socket",
		cfg.PidFilePath():     "/data/managed_pids.json",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("path = %q, want %q", got, want)
		}
	}
}

func TestMithrilDefaultsPerNetwork(t *testing.T) {
	pre := &Config{Network: NetworkPreprod, DataDir: "/d"}
	main := &Config{Network: NetworkMainnet, DataDir: "/d"}
	if pre.MithrilAggregatorURL() == main.MithrilAggregatorURL() {
		t.Fatal("aggregator URLs must differ per network")
	}
	override := &Config{Network: NetworkPreprod, DataDir: "/d", AggregatorURL: "http://localhost:9999"}
	if override.MithrilAggregatorURL() != "http://localhost:9999" {
		t.Fatal("aggregator override ignored")
	}
	if pre.MithrilGenesisVKey() == "" || main.MithrilGenesisVKey() == "" {
		t.Fatal("genesis keys must have defaults")
	}
}

func TestMatchPatterns(t *testing.T) {
	empty := &Config{Network: NetworkPreprod, DataDir: "/d"}
	if got := empty.MatchPatterns(); len(got) != 1 || got[0] != "*" {
		t.Fatalf("fallback patterns = %v", got)
	}
	full := &Config{
		Network:           NetworkPreprod,
		DataDir:           "/d",
		ContractAddresses: []string{"addr_A", "addr_B"},
		WalletAddress:     "addr_W",
	}
	got := full.MatchPatterns()
	want := []string{"addr_A", "addr_B", "addr_W"}
	if len(got) != len(want) {
		t.Fatalf("patterns = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("patterns = %v, want %v", got, want)
		}
	}
}

func TestBackendEnvCarriesServiceURLs(t *testing.T) {
	cfg := &Config{
		Network: NetworkPreprod,
		DataDir: "/d",
		Backend: &BackendConfig{Dir: "/opt/backend", Env: []string{"EXTRA=1"}},
	}
	cfg.applyDefaults()
	env := cfg.BackendEnv()
	want := map[string]bool{
		"PORT=3001":                        false,
		"NETWORK=preprod":                  false,
		"KUPO_URL=http://127.0.0.1:1442":   false,
		"OGMIOS_URL=http://127.0.0.1:1337": false,
		"EXTRA=1":                          false,
	}
	for _, kv := range env {
		if _, ok := want[kv]; ok {
			want[kv] = true
		}
	}
	for kv, seen := range want {
		if !seen {
			t.Fatalf("missing %q in backend env %v", kv, env)
		}
	}
}
