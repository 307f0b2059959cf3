package core

import (
	"context"

	"github.com/sirupsen/logrus"
)

func probeLog() *logrus.Entry { return logrus.WithField("component", "swap_probe") }

// Endpoints resolves the configured TargetChainClient for a parent chain, or
// false if none is configured — in which case the swap stays in its current
// state (§4.6.6 step 1).
type Endpoints interface {
	Endpoint(chain ParentChain) (TargetChainClient, bool)
}

// probeResult pairs a swap id with the RPC candidate observed for it, ready
// to be applied inside a short write transaction.
type probeResult struct {
	swapID        Hash
	txid          Hash
	confirmations uint32
}

// RunSwapProbe is the target-chain probe (§4.6.6), run by the periodic
// timer-driven driver (§4.8, Node.runSwapPoll). Block connect does not call
// it: between polls a swap's L1 detection advances only through a manual
// UpdateSwapL1Txid. The RPC round trips happen first, under ctx and outside
// any write transaction; state mutation happens last, under one short write
// transaction per result.
func RunSwapProbe(ctx context.Context, env *Environment, endpoints Endpoints) error {
	r := env.Begin()
	type pending struct {
		swap Swap
	}
	var candidates []pending
	r.IterateSwaps(func(s Swap) bool {
		if s.State.Kind == SwapPendingState || s.State.Kind == SwapWaitingConfirmations {
			candidates = append(candidates, pending{swap: s})
		}
		return true
	})

	var results []probeResult
	for _, p := range candidates {
		client, ok := endpoints.Endpoint(p.swap.ParentChain)
		if !ok {
			continue
		}
		cand, found, err := client.FindConfirmedPayment(ctx, p.swap.L1RecipientAddress, p.swap.L1Amount)
		if err != nil {
			recordRPCPoll(p.swap.ParentChain, "error")
			probeLog().WithError(err).WithField("swap", p.swap.ID.String()).Warn("target-chain rpc call failed, leaving swap state unchanged")
			continue
		}
		if !found {
			recordRPCPoll(p.swap.ParentChain, "not_found")
			continue
		}
		recordRPCPoll(p.swap.ParentChain, "found")
		results = append(results, probeResult{swapID: p.swap.ID, txid: cand.Txid, confirmations: cand.Confirmations})
	}

	for _, res := range results {
		if err := applyProbeResult(env, res); err != nil {
			probeLog().WithError(err).WithField("swap", res.swapID.String()).Warn("failed to apply probe result")
		}
	}
	return nil
}

// applyProbeResult opens its own short write transaction per swap so a
// failure on one swap's update never aborts the others (§5's "short write
// transactions" for out-of-band RPC polling).
func applyProbeResult(env *Environment, res probeResult) error {
	w := env.BeginWrite()
	defer w.Rollback()

	s, ok := w.GetSwap(res.swapID)
	if !ok {
		return ErrSwapNotFound
	}
	if s.State.Kind != SwapPendingState && s.State.Kind != SwapWaitingConfirmations {
		return nil
	}

	if existing, bound := w.SwapByL1Txid(s.ParentChain, res.txid); bound && existing != s.ID {
		// Step 4: the candidate txid is already bound to a different swap on
		// this parent chain; skip (reject) this candidate.
		return nil
	}

	height, _ := w.Height()
	if s.L1Txid.IsZero() {
		// Step 5: on first detection the RPC-observed sender is never stored
		// as the L2 claimer — only update_swap_l1_txid's manual caller does
		// that (§4.6.6 step 5).
		if err := UpdateSwapL1Txid(w, height, s.ID, res.txid, res.confirmations, false, Address{}); err != nil {
			return err
		}
		return w.Commit()
	} else if s.L1Txid != res.txid {
		return nil
	}

	// Confirmations only ever advance monotonically (§4.6.6 step 5, §9's
	// open question: the first writer to observe a count wins, a
	// not-strictly-greater update from a racing writer is a no-op).
	if res.confirmations <= s.State.Confirmations && s.State.Kind == SwapWaitingConfirmations {
		return w.Commit()
	}
	if err := AdvanceSwapConfirmations(w, s.ID, res.confirmations); err != nil {
		return err
	}
	return w.Commit()
}
