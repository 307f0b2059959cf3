package core

import (
	"context"
	"testing"
	"time"
)

type countingEnforcerClient struct {
	*fakeEnforcerClient
	tip Hash
}

func (c *countingEnforcerClient) Tip(ctx context.Context) (MainHeaderRecord, error) {
	return MainHeaderRecord{Hash: c.tip}, nil
}

type emptyEndpoints struct{}

func (emptyEndpoints) Endpoint(chain ParentChain) (TargetChainClient, bool) { return nil, false }

func TestNodeTipProbePersistsAncestry(t *testing.T) {
	env, err := OpenEnvironment(StoreConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("open environment: %v", err)
	}
	defer env.Close()

	chain, tip := buildFakeChain(3)
	enforcer := &countingEnforcerClient{fakeEnforcerClient: &fakeEnforcerClient{chain: chain}, tip: tip}

	node := NewNode(env, enforcer, emptyEndpoints{}, NodeConfig{
		TipProbeInterval: 10 * time.Millisecond,
		SwapPollInterval: time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	node.Start(ctx)
	defer node.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		r := env.Begin()
		ok := r.HasMainHeader(tip)
		r.Rollback()
		if ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("tip header not persisted within deadline")
}

func TestNodeStopIsIdempotentWithStart(t *testing.T) {
	env, err := OpenEnvironment(StoreConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("open environment: %v", err)
	}
	defer env.Close()

	chain, tip := buildFakeChain(1)
	enforcer := &countingEnforcerClient{fakeEnforcerClient: &fakeEnforcerClient{chain: chain}, tip: tip}
	node := NewNode(env, enforcer, emptyEndpoints{}, NodeConfig{})

	ctx := context.Background()
	node.Start(ctx)
	node.Stop()
	node.Stop()
}
