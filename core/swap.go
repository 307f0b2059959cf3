package core

import (
	"fmt"
)

// ValidateSwapCreate checks the six rules a SwapCreate transaction must
// satisfy (§4.6.2). Connect effects (persisting the swap, locking its
// SwapPending outputs, and indexing it) are applied separately by
// ConnectSwapCreate once the whole block has passed validation.
func ValidateSwapCreate(r *ReadTx, ft FilledTransaction) error {
	sc := ft.Tx.SwapCreate

	// Rule 1: the declared id must match the deterministic derivation from
	// the declared fields and the first input's spent output owner.
	if len(ft.SpentOutputs) == 0 {
		return fmt.Errorf("%w: swap_create has no inputs", ErrSwapIDMismatch)
	}
	l2Sender := ft.SpentOutputs[0].Owner
	l2Recipient := Address{}
	if sc.HasL2Recipient {
		l2Recipient = sc.L2Recipient
	}
	want := ComputeSwapID(sc.L1RecipientAddress, sc.L1Amount, l2Sender, l2Recipient)
	if want != sc.SwapID {
		return ErrSwapIDMismatch
	}

	// Rule 2: the id must not already be in use.
	if _, ok := r.GetSwap(sc.SwapID); ok {
		return ErrSwapAlreadyExists
	}

	// Rule 3: l2_amount > 0; outputs non-empty.
	if sc.L2Amount == 0 {
		return ErrSwapZeroAmount
	}
	if len(ft.Tx.Outputs) == 0 {
		return ErrSwapNoOutputs
	}

	// Rule 4: none of the inputs may be locked to any other live swap. An
	// orphaned lock (the referenced swap is absent or corrupted) is rejected
	// with a hint to run cleanup_orphaned_locks rather than silently passing.
	for _, in := range ft.Tx.Inputs {
		lockedTo, locked := r.LockedOutputSwap(in.OutPoint)
		if !locked {
			continue
		}
		if _, ok := r.GetSwap(lockedTo); !ok {
			return ErrSwapOrphanedLock
		}
		return ErrSwapInputLocked
	}

	// Rule 5: summed input value must be at least l2_amount.
	inTotal, err := ft.SumInputs()
	if err != nil {
		return err
	}
	if inTotal < sc.L2Amount {
		return ErrNotEnoughValueIn
	}

	// Rule 6: at least one output has content SwapPending{value, swap_id}
	// and the sum of such outputs equals l2_amount. Every SwapPending output
	// the transaction produces must carry this swap id (a SwapCreate cannot
	// lock value into a different swap).
	lockedTotal := uint64(0)
	sawPending := false
	for _, out := range ft.Tx.Outputs {
		if !out.IsSwapPending() {
			continue
		}
		if out.SwapID != sc.SwapID {
			return ErrSwapPendingMismatch
		}
		sawPending = true
		lockedTotal += out.Value
	}
	if !sawPending {
		return ErrSwapNoOutputs
	}
	if lockedTotal != sc.L2Amount {
		return ErrSwapPendingMismatch
	}

	return nil
}

// ConnectSwapCreate applies a validated SwapCreate transaction's effects:
// persist the new swap in state Pending, lock every SwapPending output it
// produced, and index it by recipient when it has one (open swaps are not
// indexed).
func ConnectSwapCreate(w *WriteTx, height uint32, tx Transaction, txid Hash) error {
	sc := tx.SwapCreate

	s := Swap{
		ID:                    sc.SwapID,
		Direction:             SwapL2ToL1,
		ParentChain:           sc.ParentChain,
		RequiredConfirmations: sc.RequiredConfirmations,
		State:                 SwapState{Kind: SwapPendingState},
		HasL2Recipient:        sc.HasL2Recipient,
		L2Recipient:           sc.L2Recipient,
		L2Amount:              sc.L2Amount,
		L1RecipientAddress:    sc.L1RecipientAddress,
		L1Amount:              sc.L1Amount,
		CreatedAtHeight:       height,
	}
	w.PutSwap(s)
	recordSwapTransition(s.State.Kind)

	for i, out := range tx.Outputs {
		if !out.IsSwapPending() {
			continue
		}
		op := RegularOutPoint(txid, uint32(i))
		w.LockOutput(op, sc.SwapID)
	}

	// Pre-specified swaps (a known recipient) are indexed so the recipient
	// can discover them; open swaps have no recipient to index by yet.
	if s.HasL2Recipient {
		w.AddSwapByRecipient(s.L2Recipient, s.ID)
	}
	return nil
}

// ValidateSwapClaim checks the four rules a SwapClaim transaction must
// satisfy (§4.6.3).
func ValidateSwapClaim(r *ReadTx, ft FilledTransaction) error {
	cl := ft.Tx.SwapClaim

	// Rule 1: the referenced swap must exist and be ReadyToClaim.
	s, ok := r.GetSwap(cl.SwapID)
	if !ok {
		return ErrSwapNotFound
	}
	if s.State.Kind != SwapReadyToClaim {
		return ErrSwapNotReady
	}

	// Rule 2: a pre-specified swap's recipient is fixed at creation and needs
	// no further declaration. An open swap resolves its claimer from the
	// stored address (set by update_swap_l1_txid when the filler submitted
	// the L1 txid) or from the transaction's own field; when both are
	// present they must agree.
	resolvedRecipient := s.L2Recipient
	if !s.HasL2Recipient {
		switch {
		case s.HasL2Claimer && cl.HasL2Claimer:
			if s.L2ClaimerAddress != cl.L2ClaimerAddress {
				return ErrSwapClaimerMismatch
			}
			resolvedRecipient = s.L2ClaimerAddress
		case s.HasL2Claimer:
			resolvedRecipient = s.L2ClaimerAddress
		case cl.HasL2Claimer:
			resolvedRecipient = cl.L2ClaimerAddress
		default:
			return ErrSwapClaimerMissing
		}
	}

	// Rule 3: every SwapPending input must be locked to this swap id (an
	// unlocked one is an orphaned lock), and there must be at least one such
	// input; inputs of any other content are not lock-checked.
	sawLocked := false
	for i, in := range ft.Tx.Inputs {
		spent := ft.SpentOutputs[i]
		if !spent.IsSwapPending() {
			continue
		}
		lockedTo, locked := r.LockedOutputSwap(in.OutPoint)
		if !locked {
			return ErrSwapOrphanedLock
		}
		if lockedTo != cl.SwapID {
			return ErrSwapClaimForeignLock
		}
		sawLocked = true
	}
	if !sawLocked {
		return ErrSwapClaimNoLockedIn
	}

	// Rule 4: the transaction must contain at least one output paying the
	// resolved recipient.
	hasPayout := false
	for _, out := range ft.Tx.Outputs {
		if out.Content == ContentValue && out.Value > 0 && out.Owner == resolvedRecipient {
			hasPayout = true
			break
		}
	}
	if !hasPayout {
		return ErrSwapClaimNoPayout
	}

	return nil
}

// ConnectSwapClaim applies a validated SwapClaim's effects: unlock every
// SwapPending input it spends and mark the swap Completed.
func ConnectSwapClaim(w *WriteTx, tx Transaction) error {
	cl := tx.SwapClaim

	for _, in := range tx.Inputs {
		if _, locked := w.LockedOutputSwap(in.OutPoint); locked {
			w.UnlockOutput(in.OutPoint)
		}
	}

	s, ok := w.GetSwap(cl.SwapID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSwapNotFound, cl.SwapID)
	}
	s.State = SwapState{Kind: SwapCompleted}
	if !s.HasL2Recipient && cl.HasL2Claimer {
		s.HasL2Claimer = true
		s.L2ClaimerAddress = cl.L2ClaimerAddress
	}
	w.PutSwap(s)
	recordSwapTransition(s.State.Kind)

	if s.HasL2Recipient {
		w.RemoveSwapByRecipient(s.L2Recipient, s.ID)
	}
	return nil
}

// UpdateSwapL1Txid binds a detected parent-chain transaction to a swap
// (§4.6.5): the first step of §4.6.6's target-chain probe turning into state
// machine progress, but also the manual path a filler or operator uses when
// no RPC endpoint is configured (scenario E). confirmations is the observed
// confirmation count of l1Txid itself, not required_confirmations — an
// observed count of zero is rejected and the swap is left Pending (scenario
// D). hasL2Claimer/l2ClaimerAddress record the claimer an open swap's filler
// supplies at this step (§4.6.3 rule 2); a pre-specified swap or a probe-only
// detection passes hasL2Claimer=false and leaves the stored claimer alone.
func UpdateSwapL1Txid(w *WriteTx, height uint32, swapID Hash, l1Txid Hash, confirmations uint32, hasL2Claimer bool, l2ClaimerAddress Address) error {
	s, ok := w.GetSwap(swapID)
	if !ok {
		return ErrSwapNotFound
	}
	if confirmations == 0 {
		return ErrZeroConfirmations
	}
	if existing, bound := w.SwapByL1Txid(s.ParentChain, l1Txid); bound && existing != swapID {
		return ErrL1TxidAlreadyUsed
	}

	s.L1Txid = l1Txid
	s.HasValidatedAtHeight = true
	s.ValidatedAtHeight = height
	if hasL2Claimer {
		s.HasL2Claimer = true
		s.L2ClaimerAddress = l2ClaimerAddress
	}
	if confirmations >= s.RequiredConfirmations {
		s.State = SwapState{Kind: SwapReadyToClaim, Confirmations: confirmations, RequiredConfirmations: s.RequiredConfirmations}
	} else {
		s.State = SwapState{Kind: SwapWaitingConfirmations, Confirmations: confirmations, RequiredConfirmations: s.RequiredConfirmations}
	}
	w.PutSwap(s)
	recordSwapTransition(s.State.Kind)
	w.SetSwapByL1Txid(s.ParentChain, l1Txid, swapID)
	return nil
}

// AdvanceSwapConfirmations applies the confirmation count observed by the
// target-chain probe (§4.6.6 step 5), moving WaitingConfirmations to
// ReadyToClaim once the requirement is met. A swap not currently in
// WaitingConfirmations is left untouched (idempotent against a stale probe
// result).
func AdvanceSwapConfirmations(w *WriteTx, swapID Hash, confirmations uint32) error {
	s, ok := w.GetSwap(swapID)
	if !ok {
		return ErrSwapNotFound
	}
	if s.State.Kind != SwapWaitingConfirmations {
		return nil
	}
	s.State.Confirmations = confirmations
	if confirmations >= s.RequiredConfirmations {
		s.State = SwapState{Kind: SwapReadyToClaim, Confirmations: confirmations, RequiredConfirmations: s.RequiredConfirmations}
	}
	w.PutSwap(s)
	recordSwapTransition(s.State.Kind)
	return nil
}

// CancelSwap moves a Pending swap to Cancelled, unlocking any outputs still
// locked to it; a swap in any other state is left unchanged and
// ErrSwapNotPending is returned. Used by expiry handling (expireSwaps in
// blockengine.go).
func CancelSwap(w *WriteTx, swapID Hash) error {
	s, ok := w.GetSwap(swapID)
	if !ok {
		return ErrSwapNotFound
	}
	if s.State.Kind != SwapPendingState {
		return ErrSwapNotPending
	}
	w.IterateLockedOutputs(func(op OutPoint, lockedTo Hash) bool {
		if lockedTo == swapID {
			w.UnlockOutput(op)
		}
		return true
	})
	s.State = SwapState{Kind: SwapCancelled}
	w.PutSwap(s)
	recordSwapTransition(s.State.Kind)
	return nil
}
