package core

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

func nodeLog() *logrus.Entry { return logrus.WithField("component", "node") }

const (
	defaultTipProbeInterval = 30 * time.Second
	defaultSwapPollInterval = 20 * time.Second
)

// StaticEndpoints is the simplest Endpoints implementation: a fixed map of
// parent chain to target-chain RPC client, built once from configuration at
// startup (§6's "configuration file format: a JSON object mapping
// parent-chain tag to {url, user, password}").
type StaticEndpoints map[ParentChain]TargetChainClient

func (s StaticEndpoints) Endpoint(chain ParentChain) (TargetChainClient, bool) {
	c, ok := s[chain]
	return c, ok
}

// NodeConfig configures the periodic drivers of §4.8; a zero value selects
// the package defaults.
type NodeConfig struct {
	TipProbeInterval time.Duration
	SwapPollInterval time.Duration
}

func (c NodeConfig) withDefaults() NodeConfig {
	if c.TipProbeInterval <= 0 {
		c.TipProbeInterval = defaultTipProbeInterval
	}
	if c.SwapPollInterval <= 0 {
		c.SwapPollInterval = defaultSwapPollInterval
	}
	return c
}

// Node is the aggregate that owns the store environment and the periodic
// drivers around it (§4.8: parent-chain tip probe, swap confirmation poll),
// grounded on core/connection_pool.go's reaper()-ticker-goroutine idiom,
// generalized from one pool's idle-connection sweep to two independent
// timers, each cancelled by the same context.
type Node struct {
	Env       *Environment
	Enforcer  EnforcerClient
	Mainchain *MainchainFetchTask
	Endpoints Endpoints

	cfg NodeConfig

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode wires an Environment to an enforcer client and a set of
// target-chain endpoints; the mainchain fetch task is started immediately
// (it has no separate lifecycle of its own beyond the Node's).
func NewNode(env *Environment, enforcer EnforcerClient, endpoints Endpoints, cfg NodeConfig) *Node {
	return &Node{
		Env:       env,
		Enforcer:  enforcer,
		Mainchain: NewMainchainFetchTask(enforcer, env),
		Endpoints: endpoints,
		cfg:       cfg.withDefaults(),
	}
}

// Start launches the periodic drivers; they run until ctx is cancelled or
// Stop is called (§5 "cancellation: long-running tasks terminate on handle
// drop").
func (n *Node) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	n.wg.Add(2)
	go n.runTipProbe(ctx)
	go n.runSwapPoll(ctx)
}

// Stop cancels the periodic drivers, waits for them to exit, and closes the
// mainchain fetch task.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	n.Mainchain.Close()
}

func (n *Node) runTipProbe(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(n.cfg.TipProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.probeTip(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// probeTip asks the enforcer for its current tip and, if it is new,
// instructs the mainchain fetch task to walk and persist its ancestry
// (§4.8, §4.7). A failed or timed-out RPC is logged and retried on the
// next tick.
func (n *Node) probeTip(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	tip, err := n.Enforcer.Tip(callCtx)
	if err != nil {
		nodeLog().WithError(err).Warn("parent-chain tip probe failed")
		return
	}
	r := n.Env.Begin()
	known := r.HasMainHeader(tip.Hash)
	r.Rollback()
	if known {
		return
	}
	if err := n.Mainchain.AncestorInfos(callCtx, tip.Hash); err != nil {
		nodeLog().WithError(err).WithField("tip", tip.Hash.String()).Warn("ancestor fetch failed")
	}
}

func (n *Node) runSwapPoll(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(n.cfg.SwapPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := RunSwapProbe(ctx, n.Env, n.Endpoints); err != nil {
				nodeLog().WithError(err).Warn("swap confirmation poll failed")
			}
		case <-ctx.Done():
			return
		}
	}
}
