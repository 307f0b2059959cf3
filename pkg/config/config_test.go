package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"

	"synnergy-network/internal/testutil"
)

func TestLoadConfigSandbox(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if err := os.Mkdir(sb.Path("config"), 0700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	data := []byte(`
network:
  id: sidechain-devnet
  max_peers: 16
storage:
  db_path: ./data
enforcer:
  address: 127.0.0.1:9443
target_chains:
  regtest:
    url: 127.0.0.1:18443
    user: rpcuser
    password: rpcpass
node:
  tip_probe_interval_ms: 5000
  swap_poll_interval_ms: 5000
`)
	if err := sb.WriteFile("config/default.yaml", data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Network.ID != "sidechain-devnet" {
		t.Fatalf("expected network id sidechain-devnet, got %s", cfg.Network.ID)
	}
	if cfg.Network.MaxPeers != 16 {
		t.Fatalf("expected MaxPeers 16, got %d", cfg.Network.MaxPeers)
	}
	if cfg.Enforcer.Address != "127.0.0.1:9443" {
		t.Fatalf("expected enforcer address, got %s", cfg.Enforcer.Address)
	}
	rt, ok := cfg.TargetChains["regtest"]
	if !ok {
		t.Fatalf("expected regtest target chain entry")
	}
	if rt.URL != "127.0.0.1:18443" || rt.User != "rpcuser" || rt.Password != "rpcpass" {
		t.Fatalf("unexpected regtest endpoint: %+v", rt)
	}
	if cfg.Node.TipProbeIntervalMS != 5000 || cfg.Node.SwapPollIntervalMS != 5000 {
		t.Fatalf("unexpected node intervals: %+v", cfg.Node)
	}
}

func TestLoadConfigOverrideMergesEnvFile(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if err := os.Mkdir(sb.Path("config"), 0700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	if err := sb.WriteFile("config/default.yaml", []byte("network:\n  id: base\n  max_peers: 8\n"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := sb.WriteFile("config/bootstrap.yaml", []byte("network:\n  max_peers: 100\n"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	cfg, err := Load("bootstrap")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Network.ID != "base" {
		t.Fatalf("expected base network id to survive merge, got %s", cfg.Network.ID)
	}
	if cfg.Network.MaxPeers != 100 {
		t.Fatalf("expected MaxPeers override to 100, got %d", cfg.Network.MaxPeers)
	}
}
