package core

import "testing"

func TestTwoWayPegDepositAppliesAndDisconnects(t *testing.T) {
	env := openTestEnv(t)
	addr := newTestKeypair(t, 31).addr
	parentOp := ParentOutPoint{Txid: fakeTxid(0x50), Vout: 0}
	dep := DepositEvent{ParentOutpoint: parentOp, Output: Output{Owner: addr, Content: ContentValue, Value: 21_000_000}}
	events := []ParentBlockEvents{{
		ParentBlockHash: fakeTxid(0x51),
		Height:          1,
		Events:          []ParentChainEvent{{Kind: EventDeposit, Deposit: dep}},
	}}

	w := env.BeginWrite()
	eff, err := ApplyParentChainEvents(w, events, 0)
	if err != nil {
		t.Fatalf("apply_parent_chain_events: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	op := DepositOutPoint(parentOp)
	r := env.Begin()
	if out, ok := r.GetUTXO(op); !ok || out.Value != 21_000_000 {
		t.Fatalf("expected deposit utxo present, got %+v ok=%v", out, ok)
	}
	if len(r.DepositEventBlocks()) != 1 {
		t.Fatalf("expected one recorded deposit event block")
	}

	w2 := env.BeginWrite()
	if err := DisconnectParentChainEvents(w2, events, eff); err != nil {
		t.Fatalf("disconnect_parent_chain_events: %v", err)
	}
	if err := w2.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	final := env.Begin()
	if _, ok := final.GetUTXO(op); ok {
		t.Fatalf("expected deposit utxo removed on disconnect")
	}
	if len(final.DepositEventBlocks()) != 0 {
		t.Fatalf("expected the deposit event block popped on disconnect")
	}
}

func seedWithdrawalUTXOs(w *WriteTx) {
	w.PutUTXO(RegularOutPoint(fakeTxid(0x60), 0), Output{Content: ContentWithdrawal, MainAddress: "bc1qdest", Value: 300_000, MainFee: 500})
	w.PutUTXO(RegularOutPoint(fakeTxid(0x61), 0), Output{Content: ContentWithdrawal, MainAddress: "bc1qdest", Value: 100_000, MainFee: 200})
}

func TestTwoWayPegBundleAssemblyRespectsCooldown(t *testing.T) {
	env := openTestEnv(t)

	w := env.BeginWrite()
	seedWithdrawalUTXOs(w)
	if err := w.Commit(); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Before the cooldown (default last_failure_height == 0) has elapsed, no
	// bundle should assemble.
	w2 := env.BeginWrite()
	eff, err := ApplyParentChainEvents(w2, nil, bundleAssemblyCooldown-1)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if eff.HasAssembledBundle {
		t.Fatalf("expected no bundle assembled before the cooldown elapses")
	}
	w2.Rollback()

	w3 := env.BeginWrite()
	eff3, err := ApplyParentChainEvents(w3, nil, bundleAssemblyCooldown)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !eff3.HasAssembledBundle {
		t.Fatalf("expected a bundle to assemble once the cooldown has elapsed")
	}
	if err := w3.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	r := env.Begin()
	pending, _, ok := r.PendingWithdrawalBundle()
	if !ok {
		t.Fatalf("expected a pending bundle")
	}
	if len(pending.Outputs) != 1 || pending.Outputs[0].Value != 400_000 {
		t.Fatalf("expected the two withdrawal utxos aggregated by address into one 400000-value output, got %+v", pending.Outputs)
	}
}

// TestTwoWayPegBundleFailedDisconnectRestoresCooldown is the regression test
// for the last_failure_height rollback fix: disconnecting a BundleFailed
// event must restore the cooldown gate to exactly what it was before that
// event was applied, not leave it pinned at the failed height.
func TestTwoWayPegBundleFailedDisconnectRestoresCooldown(t *testing.T) {
	env := openTestEnv(t)

	w := env.BeginWrite()
	seedWithdrawalUTXOs(w)
	if err := w.Commit(); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w2 := env.BeginWrite()
	eff, err := ApplyParentChainEvents(w2, nil, 100)
	if err != nil || !eff.HasAssembledBundle {
		t.Fatalf("expected a bundle assembled at height 100: eff=%+v err=%v", eff, err)
	}
	if err := w2.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	var m6id M6ID
	{
		r := env.Begin()
		pending, _, _ := r.PendingWithdrawalBundle()
		m6id = pending.M6ID
	}

	submittedBlock := ParentBlockEvents{
		ParentBlockHash: fakeTxid(0x70), Height: 104,
		Events: []ParentChainEvent{{Kind: EventWithdrawalBundle, Withdrawal: WithdrawalBundleEvent{M6ID: m6id, Status: BundleSubmitted}}},
	}
	w3 := env.BeginWrite()
	if _, err := ApplyParentChainEvents(w3, []ParentBlockEvents{submittedBlock}, 104); err != nil {
		t.Fatalf("apply submitted: %v", err)
	}
	if err := w3.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	failedBlock := ParentBlockEvents{
		ParentBlockHash: fakeTxid(0x71), Height: 110,
		Events: []ParentChainEvent{{Kind: EventWithdrawalBundle, Withdrawal: WithdrawalBundleEvent{M6ID: m6id, Status: BundleFailed}}},
	}
	w4 := env.BeginWrite()
	failedEff, err := ApplyParentChainEvents(w4, []ParentBlockEvents{failedBlock}, 110)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if err := w4.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	{
		r := env.Begin()
		if got := r.LastFailureHeight(); got != 110 {
			t.Fatalf("expected last_failure_height == 110 after the failure, got %d", got)
		}
	}

	w5 := env.BeginWrite()
	if err := DisconnectParentChainEvents(w5, []ParentBlockEvents{failedBlock}, failedEff); err != nil {
		t.Fatalf("disconnect failed block: %v", err)
	}
	if err := w5.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	r := env.Begin()
	if got := r.LastFailureHeight(); got != 0 {
		t.Fatalf("expected last_failure_height restored to 0 after disconnecting the failure, got %d", got)
	}
	rec, ok := r.GetBundleRecord(m6id)
	if !ok || len(rec.History) != 1 || rec.History[0].Status != BundleSubmitted {
		t.Fatalf("expected the bundle record rolled back to just its Submitted entry, got %+v ok=%v", rec, ok)
	}
}
