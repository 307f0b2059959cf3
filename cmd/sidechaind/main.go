package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"synnergy-network/core"
	"synnergy-network/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{Use: "sidechaind"}
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(versionCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the sidechain node version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sidechaind (config %s)\n", config.Version)
		},
	}
}

func startCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start the sidechain node",
		Run: func(cmd *cobra.Command, args []string) {
			if err := runNode(env); err != nil {
				logrus.WithError(err).Fatal("node exited with error")
			}
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "environment-specific config overlay (e.g. bootstrap)")
	return cmd
}

func runNode(env string) error {
	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("sidechaind: load config: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	storeEnv, err := core.OpenEnvironment(core.StoreConfig{
		Dir:              cfg.Storage.DBPath,
		SnapshotInterval: cfg.Storage.SnapshotInterval,
	})
	if err != nil {
		return fmt.Errorf("sidechaind: open store: %w", err)
	}
	defer storeEnv.Close()

	endpoints, err := buildEndpoints(cfg.TargetChains)
	if err != nil {
		return fmt.Errorf("sidechaind: target chain endpoints: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	enforcer, err := core.DialEnforcer(ctx, cfg.Enforcer.Address, unconfiguredEnforcerStub{})
	if err != nil {
		return fmt.Errorf("sidechaind: dial enforcer: %w", err)
	}

	node := core.NewNode(storeEnv, enforcer, endpoints, core.NodeConfig{
		TipProbeInterval: time.Duration(cfg.Node.TipProbeIntervalMS) * time.Millisecond,
		SwapPollInterval: time.Duration(cfg.Node.SwapPollIntervalMS) * time.Millisecond,
	})
	node.Start(ctx)
	logrus.WithField("enforcer", cfg.Enforcer.Address).Info("sidechain node started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logrus.Info("shutting down")
	node.Stop()
	return nil
}

func buildEndpoints(chains map[string]config.TargetChainEndpointConfig) (core.StaticEndpoints, error) {
	endpoints := make(core.StaticEndpoints, len(chains))
	for tag, ep := range chains {
		chain, err := core.ParseParentChain(tag)
		if err != nil {
			return nil, err
		}
		client, err := core.NewTargetChainClient(core.TargetChainEndpoint{
			Chain:  chain,
			Host:   ep.URL,
			User:   ep.User,
			Pass:   ep.Password,
			Params: chainParams(chain),
		})
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", tag, err)
		}
		endpoints[chain] = client
	}
	return endpoints, nil
}

// chainParams picks the btcsuite address-decoding parameters closest to the
// configured target chain; BCH and LTC reuse Bitcoin's parameter shape since
// btcd's chaincfg package only ships Bitcoin networks (documented limitation).
func chainParams(chain core.ParentChain) *chaincfg.Params {
	switch chain {
	case core.ParentChainSignet:
		return &chaincfg.SigNetParams
	case core.ParentChainRegtest:
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// unconfiguredEnforcerStub is the seam where a protoc-generated enforcer
// client plugs in (§6 "Enforcer gRPC"); this binary ships without one
// compiled in, matching core/ai.go's "gRPC proto (compiled separately)"
// convention of accepting the generated stub from the caller.
type unconfiguredEnforcerStub struct{}

func (unconfiguredEnforcerStub) Tip(ctx context.Context, req *core.TipRequest) (*core.TipResponse, error) {
	return nil, fmt.Errorf("sidechaind: no enforcer client compiled in; supply one via core.DialEnforcer")
}

func (unconfiguredEnforcerStub) BlockInfos(ctx context.Context, req *core.BlockInfosRequest) (*core.BlockInfosResponse, error) {
	return nil, fmt.Errorf("sidechaind: no enforcer client compiled in; supply one via core.DialEnforcer")
}
