package core

import (
	"errors"
	"testing"
)

func fakeTxid(b byte) Hash {
	var h Hash
	h[0] = b
	return h
}

// TestSwapPreSpecifiedHappyPath exercises scenario A: a pre-specified swap
// (l2_recipient known at create time) runs create -> l1 detection ->
// confirmations -> claim to completion.
func TestSwapPreSpecifiedHappyPath(t *testing.T) {
	env := openTestEnv(t)
	sender := newTestKeypair(t, 1)
	recipient := newTestKeypair(t, 2)

	fundingOp := RegularOutPoint(fakeTxid(0xAA), 0)
	fundingOut := Output{Owner: sender.addr, Content: ContentValue, Value: 500_000}
	{
		w := env.BeginWrite()
		w.PutUTXO(fundingOp, fundingOut)
		if err := w.Commit(); err != nil {
			t.Fatalf("seed utxo commit: %v", err)
		}
	}

	swapID := ComputeSwapID("bc1qrecipient", 100_000, sender.addr, recipient.addr)
	createTx := Transaction{
		Inputs:  []TxInput{{OutPoint: fundingOp}},
		Outputs: []Output{{Content: ContentSwapPending, Value: 500_000, SwapID: swapID}},
		DataKind: TxSwapCreate,
		SwapCreate: SwapCreateData{
			SwapID:                swapID,
			ParentChain:           ParentChainBTC,
			L1RecipientAddress:    "bc1qrecipient",
			L1Amount:              100_000,
			L2Sender:              sender.addr,
			HasL2Recipient:        true,
			L2Recipient:           recipient.addr,
			L2Amount:              500_000,
			RequiredConfirmations: 6,
		},
	}
	createTx = signTx(t, createTx, sender)
	createTxid := transactionID(createTx)

	{
		r := env.Begin()
		ft := FilledTransaction{Tx: createTx, SpentOutputs: []Output{fundingOut}}
		if err := ValidateSwapCreate(r, ft); err != nil {
			t.Fatalf("validate_swap_create: %v", err)
		}
	}
	{
		w := env.BeginWrite()
		// ConnectSwapCreate records the swap and its locks only; the create
		// transaction's outputs are written here as block connect would.
		w.PutUTXO(RegularOutPoint(createTxid, 0), createTx.Outputs[0])
		if err := ConnectSwapCreate(w, 10, createTx, createTxid); err != nil {
			t.Fatalf("connect_swap_create: %v", err)
		}
		if err := w.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	lockedOp := RegularOutPoint(createTxid, 0)
	{
		r := env.Begin()
		s, ok := r.GetSwap(swapID)
		if !ok || s.State.Kind != SwapPendingState {
			t.Fatalf("expected swap Pending after create, got %+v ok=%v", s, ok)
		}
		if lockedTo, locked := r.LockedOutputSwap(lockedOp); !locked || lockedTo != swapID {
			t.Fatalf("expected swap_pending output locked to %s, got %s locked=%v", swapID, lockedTo, locked)
		}
	}

	l1Txid := fakeTxid(0xBB)
	{
		w := env.BeginWrite()
		if err := UpdateSwapL1Txid(w, 11, swapID, l1Txid, 1, false, Address{}); err != nil {
			t.Fatalf("update_swap_l1_txid: %v", err)
		}
		if err := w.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
	{
		r := env.Begin()
		s, _ := r.GetSwap(swapID)
		if s.State.Kind != SwapWaitingConfirmations {
			t.Fatalf("expected WaitingConfirmations after l1 txid bound, got %s", s.State.Kind)
		}
	}

	{
		w := env.BeginWrite()
		if err := AdvanceSwapConfirmations(w, swapID, 6); err != nil {
			t.Fatalf("advance_swap_confirmations: %v", err)
		}
		if err := w.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
	{
		r := env.Begin()
		s, _ := r.GetSwap(swapID)
		if s.State.Kind != SwapReadyToClaim {
			t.Fatalf("expected ReadyToClaim at 6 confirmations, got %s", s.State.Kind)
		}
	}

	claimTx := Transaction{
		Inputs:   []TxInput{{OutPoint: lockedOp}},
		Outputs:  []Output{{Owner: recipient.addr, Content: ContentValue, Value: 500_000}},
		DataKind: TxSwapClaim,
		SwapClaim: SwapClaimData{SwapID: swapID},
	}
	claimTx = signTx(t, claimTx, recipient)
	{
		r := env.Begin()
		spent, ok := r.GetUTXO(lockedOp)
		if !ok {
			t.Fatalf("locked output missing from utxo set")
		}
		ft := FilledTransaction{Tx: claimTx, SpentOutputs: []Output{spent}}
		if err := ValidateSwapClaim(r, ft); err != nil {
			t.Fatalf("validate_swap_claim: %v", err)
		}
	}
	{
		w := env.BeginWrite()
		if err := ConnectSwapClaim(w, claimTx); err != nil {
			t.Fatalf("connect_swap_claim: %v", err)
		}
		if err := w.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
	{
		r := env.Begin()
		s, _ := r.GetSwap(swapID)
		if s.State.Kind != SwapCompleted {
			t.Fatalf("expected Completed, got %s", s.State.Kind)
		}
		if _, locked := r.LockedOutputSwap(lockedOp); locked {
			t.Fatalf("claimed output should be unlocked")
		}
	}
}

// TestSwapOpenFillRejectsWrongPayout exercises scenario B: an open swap (no
// l2_recipient at create time) resolves its claimer from the address the
// filler bound with the l1 txid, and a claim paying any other address is
// rejected.
func TestSwapOpenFillRejectsWrongPayout(t *testing.T) {
	env := openTestEnv(t)
	sender := newTestKeypair(t, 3)
	filler := newTestKeypair(t, 4)
	stranger := newTestKeypair(t, 5)

	fundingOp := RegularOutPoint(fakeTxid(0xC1), 0)
	fundingOut := Output{Owner: sender.addr, Content: ContentValue, Value: 200_000}
	{
		w := env.BeginWrite()
		w.PutUTXO(fundingOp, fundingOut)
		if err := w.Commit(); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	swapID := ComputeSwapID("bc1qopen", 50_000, sender.addr, AddressZero)
	createTx := Transaction{
		Inputs:  []TxInput{{OutPoint: fundingOp}},
		Outputs: []Output{{Content: ContentSwapPending, Value: 200_000, SwapID: swapID}},
		DataKind: TxSwapCreate,
		SwapCreate: SwapCreateData{
			SwapID:                swapID,
			ParentChain:           ParentChainBTC,
			L1RecipientAddress:    "bc1qopen",
			L1Amount:              50_000,
			L2Sender:              sender.addr,
			HasL2Recipient:        false,
			L2Amount:              200_000,
			RequiredConfirmations: 3,
		},
	}
	createTx = signTx(t, createTx, sender)
	createTxid := transactionID(createTx)

	w1 := env.BeginWrite()
	if err := ConnectSwapCreate(w1, 5, createTx, createTxid); err != nil {
		t.Fatalf("connect_swap_create: %v", err)
	}
	if err := w1.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// The filler submits the l1 txid along with its own address as the
	// claimer (§4.6.3 rule 2, §4.6.6 step 5); 3 confirmations already meets
	// required_confirmations so the swap goes straight to ReadyToClaim.
	w2 := env.BeginWrite()
	if err := UpdateSwapL1Txid(w2, 6, swapID, fakeTxid(0xC2), 3, true, filler.addr); err != nil {
		t.Fatalf("update_swap_l1_txid: %v", err)
	}
	if err := w2.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	lockedOp := RegularOutPoint(createTxid, 0)
	spent := Output{Content: ContentSwapPending, Value: 200_000, SwapID: swapID}

	badClaim := Transaction{
		Inputs:   []TxInput{{OutPoint: lockedOp}},
		Outputs:  []Output{{Owner: stranger.addr, Content: ContentValue, Value: 200_000}},
		DataKind: TxSwapClaim,
		SwapClaim: SwapClaimData{SwapID: swapID, HasL2Claimer: true, L2ClaimerAddress: filler.addr},
	}
	badClaim = signTx(t, badClaim, filler)
	r := env.Begin()
	ft := FilledTransaction{Tx: badClaim, SpentOutputs: []Output{spent}}
	if err := ValidateSwapClaim(r, ft); !errors.Is(err, ErrSwapClaimNoPayout) {
		t.Fatalf("expected ErrSwapClaimNoPayout paying a stranger, got %v", err)
	}

	goodClaim := Transaction{
		Inputs:   []TxInput{{OutPoint: lockedOp}},
		Outputs:  []Output{{Owner: filler.addr, Content: ContentValue, Value: 200_000}},
		DataKind: TxSwapClaim,
		SwapClaim: SwapClaimData{SwapID: swapID, HasL2Claimer: true, L2ClaimerAddress: filler.addr},
	}
	goodClaim = signTx(t, goodClaim, filler)
	ft2 := FilledTransaction{Tx: goodClaim, SpentOutputs: []Output{spent}}
	if err := ValidateSwapClaim(r, ft2); err != nil {
		t.Fatalf("expected the open swap's filler to be a valid claimer: %v", err)
	}
}

// TestSwapL1TxidUniqueness exercises scenario C: the same l1 txid cannot be
// bound to two different swaps on the same parent chain.
func TestSwapL1TxidUniqueness(t *testing.T) {
	env := openTestEnv(t)

	mkSwap := func(w *WriteTx, id Hash) {
		w.PutSwap(Swap{ID: id, ParentChain: ParentChainBTC, RequiredConfirmations: 6, State: SwapState{Kind: SwapPendingState}})
	}
	w := env.BeginWrite()
	swap1, swap2 := fakeTxid(1), fakeTxid(2)
	mkSwap(w, swap1)
	mkSwap(w, swap2)
	if err := w.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	l1Txid := fakeTxid(0xEE)
	w2 := env.BeginWrite()
	if err := UpdateSwapL1Txid(w2, 1, swap1, l1Txid, 1, false, Address{}); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	if err := w2.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	w3 := env.BeginWrite()
	err := UpdateSwapL1Txid(w3, 2, swap2, l1Txid, 1, false, Address{})
	w3.Rollback()
	if !errors.Is(err, ErrL1TxidAlreadyUsed) {
		t.Fatalf("expected ErrL1TxidAlreadyUsed binding the same l1 txid to a second swap, got %v", err)
	}

	// Rebinding the same txid to the swap that already owns it is a no-op,
	// not a conflict.
	w4 := env.BeginWrite()
	if err := UpdateSwapL1Txid(w4, 3, swap1, l1Txid, 2, false, Address{}); err != nil {
		t.Fatalf("rebinding the owning swap's own txid should succeed: %v", err)
	}
	w4.Rollback()
}

// TestSwapZeroConfirmationsRejected exercises scenario D: update_swap_l1_txid
// rejects an observed confirmation count of zero and leaves the swap Pending.
func TestSwapZeroConfirmationsRejected(t *testing.T) {
	env := openTestEnv(t)
	w := env.BeginWrite()
	w.PutSwap(Swap{ID: fakeTxid(9), ParentChain: ParentChainRegtest, RequiredConfirmations: 6, State: SwapState{Kind: SwapPendingState}})
	if err := w.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	w2 := env.BeginWrite()
	err := UpdateSwapL1Txid(w2, 1, fakeTxid(9), fakeTxid(0xFA), 0, false, Address{})
	w2.Rollback()
	if !errors.Is(err, ErrZeroConfirmations) {
		t.Fatalf("expected ErrZeroConfirmations, got %v", err)
	}

	r := env.Begin()
	s, _ := r.GetSwap(fakeTxid(9))
	if s.State.Kind != SwapPendingState || !s.L1Txid.IsZero() {
		t.Fatalf("expected the swap to stay Pending and unbound, got %+v", s)
	}
}

// TestCancelSwapUnlocksOutputs confirms cancel_swap (used by expiry
// handling) releases every output locked to the swap.
func TestCancelSwapUnlocksOutputs(t *testing.T) {
	env := openTestEnv(t)
	swapID := fakeTxid(0x42)
	op := RegularOutPoint(fakeTxid(0x43), 0)

	w := env.BeginWrite()
	w.PutSwap(Swap{ID: swapID, State: SwapState{Kind: SwapPendingState}})
	w.LockOutput(op, swapID)
	if err := w.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	w2 := env.BeginWrite()
	if err := CancelSwap(w2, swapID); err != nil {
		t.Fatalf("cancel_swap: %v", err)
	}
	if err := w2.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	r := env.Begin()
	s, _ := r.GetSwap(swapID)
	if s.State.Kind != SwapCancelled {
		t.Fatalf("expected Cancelled, got %s", s.State.Kind)
	}
	if _, locked := r.LockedOutputSwap(op); locked {
		t.Fatalf("expected the locked output to be released on cancel")
	}
}
