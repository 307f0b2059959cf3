package core

import (
	"context"
	"testing"
)

// fakeEndpoints resolves a static map of parent chain -> client, used to
// exercise RunSwapProbe without a real RPC connection.
type fakeEndpoints map[ParentChain]TargetChainClient

func (f fakeEndpoints) Endpoint(chain ParentChain) (TargetChainClient, bool) {
	c, ok := f[chain]
	return c, ok
}

type fakeTargetChainClient struct {
	candidate     Candidate
	found         bool
	callsObserved int
}

func (c *fakeTargetChainClient) FindConfirmedPayment(ctx context.Context, address string, amountSats uint64) (Candidate, bool, error) {
	c.callsObserved++
	return c.candidate, c.found, nil
}

// TestSwapProbeSkipsUnconfiguredParentChain is scenario E: a swap targeting a
// parent chain with no configured rpc endpoint is left exactly as-is.
func TestSwapProbeSkipsUnconfiguredParentChain(t *testing.T) {
	env := openTestEnv(t)
	swapID := fakeTxid(0xA0)

	w := env.BeginWrite()
	w.PutSwap(Swap{
		ID: swapID, ParentChain: ParentChainBTC, RequiredConfirmations: 3,
		State: SwapState{Kind: SwapWaitingConfirmations, RequiredConfirmations: 3},
		L1RecipientAddress: "bc1qprobe", L1Amount: 10_000,
	})
	if err := w.Commit(); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := RunSwapProbe(context.Background(), env, fakeEndpoints{}); err != nil {
		t.Fatalf("run_swap_probe: %v", err)
	}

	r := env.Begin()
	s, _ := r.GetSwap(swapID)
	if s.State.Kind != SwapWaitingConfirmations || !s.L1Txid.IsZero() {
		t.Fatalf("expected the swap untouched with no configured endpoint, got %+v", s)
	}
}

// TestSwapProbeConfirmationsAdvanceMonotonically is the §9 open-question
// resolution: a probe result is only applied when its confirmation count is
// strictly greater than what is already stored.
func TestSwapProbeConfirmationsAdvanceMonotonically(t *testing.T) {
	env := openTestEnv(t)
	swapID := fakeTxid(0xA1)
	l1Txid := fakeTxid(0xA2)

	w := env.BeginWrite()
	w.PutSwap(Swap{
		ID: swapID, ParentChain: ParentChainBTC, RequiredConfirmations: 6,
		State:              SwapState{Kind: SwapWaitingConfirmations, Confirmations: 4, RequiredConfirmations: 6},
		L1RecipientAddress: "bc1qprobe", L1Amount: 10_000, L1Txid: l1Txid,
	})
	w.SetSwapByL1Txid(ParentChainBTC, l1Txid, swapID)
	w.SetHeight(50)
	if err := w.Commit(); err != nil {
		t.Fatalf("seed: %v", err)
	}

	stale := &fakeTargetChainClient{found: true, candidate: Candidate{Txid: l1Txid, Confirmations: 2, HasHeight: true}}
	if err := RunSwapProbe(context.Background(), env, fakeEndpoints{ParentChainBTC: stale}); err != nil {
		t.Fatalf("run_swap_probe (stale): %v", err)
	}
	r := env.Begin()
	s, _ := r.GetSwap(swapID)
	if s.State.Confirmations != 4 {
		t.Fatalf("a probe result with fewer confirmations than already stored must be a no-op, got %d", s.State.Confirmations)
	}

	fresh := &fakeTargetChainClient{found: true, candidate: Candidate{Txid: l1Txid, Confirmations: 6, HasHeight: true}}
	if err := RunSwapProbe(context.Background(), env, fakeEndpoints{ParentChainBTC: fresh}); err != nil {
		t.Fatalf("run_swap_probe (fresh): %v", err)
	}
	r2 := env.Begin()
	s2, _ := r2.GetSwap(swapID)
	if s2.State.Kind != SwapReadyToClaim || s2.State.Confirmations != 6 {
		t.Fatalf("expected ReadyToClaim at 6 confirmations, got %+v", s2.State)
	}
}
