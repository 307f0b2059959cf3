package core

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// MaxBundleOutputs is MAX_BUNDLE_OUTPUTS = floor((MAX_STD_WEIGHT - 504) / 128),
// computed once and pinned to the spec's exact value (§4.5) rather than
// recomputed from a weight constant this core does not otherwise carry.
const MaxBundleOutputs = 3121

// bundleAssemblyCooldown is the number of blocks that must elapse after the
// last bundle failure before a new pending bundle may be assembled (§4.5).
const bundleAssemblyCooldown = 4

func pegLog() *logrus.Entry { return logrus.WithField("component", "twowaypeg") }

// ApplyParentChainEvents is the two-way peg reconciler (§4.5). It applies an
// ordered list of parent-chain blocks' events in list order, then — if
// triggered — assembles a new pending withdrawal bundle. The returned
// BlockEffects fragment (bundle-assembly part only) is merged by the block
// engine into the full per-block undo record.
func ApplyParentChainEvents(w *WriteTx, events []ParentBlockEvents, height uint32) (BlockEffects, error) {
	var eff BlockEffects

	for _, blk := range events {
		sawDeposit := false
		for _, ev := range blk.Events {
			switch ev.Kind {
			case EventDeposit:
				applyDeposit(w, ev.Deposit)
				sawDeposit = true
			case EventWithdrawalBundle:
				if err := applyWithdrawalBundleEvent(w, ev.Withdrawal, height); err != nil {
					return eff, err
				}
				w.AppendWithdrawalEventBlock(WithdrawalEventBlockRecord{
					ParentBlockHash: blk.ParentBlockHash, Height: blk.Height,
				})
			}
		}
		if sawDeposit {
			w.AppendDepositEventBlock(DepositEventBlockRecord{
				ParentBlockHash: blk.ParentBlockHash, Height: blk.Height,
			})
		}
	}

	if bundle, ok := tryAssembleBundle(w, height); ok {
		eff.HasAssembledBundle = true
		eff.AssembledBundleM6ID = bundle.M6ID
	}
	return eff, nil
}

func applyDeposit(w *WriteTx, ev DepositEvent) {
	w.PutUTXO(DepositOutPoint(ev.ParentOutpoint), ev.Output)
}

func applyWithdrawalBundleEvent(w *WriteTx, ev WithdrawalBundleEvent, height uint32) error {
	switch ev.Status {
	case BundleSubmitted:
		return applyBundleSubmitted(w, ev.M6ID, height)
	case BundleConfirmed:
		return applyBundleConfirmed(w, ev.M6ID, height)
	case BundleFailed:
		return applyBundleFailed(w, ev.M6ID, height)
	}
	return nil
}

func applyBundleSubmitted(w *WriteTx, id M6ID, height uint32) error {
	pending, _, hasPending := w.PendingWithdrawalBundle()
	if hasPending && pending.M6ID == id {
		for _, op := range pending.SpendUTXOs {
			out, ok := w.GetUTXO(op)
			if !ok {
				continue
			}
			w.DeleteUTXO(op)
			w.PutSTXO(op, SpentOutput{Output: out, InPoint: InPoint{Kind: InPointWithdrawal, M6ID: id}})
		}
		w.PutBundleRecord(id, BundleRecord{
			Info:      BundleInfo{M6ID: id, SpendUTXOs: pending.SpendUTXOs, Outputs: pending.Outputs},
			Knownness: BundleKnown,
			History:   []BundleStatusEntry{{Status: BundleSubmitted, Height: height}},
		})
		w.ClearPendingWithdrawalBundle()
		return nil
	}

	pegLog().WithField("m6id", id.String()).Warn("withdrawal bundle Submitted event does not match any pending bundle")
	rec, existed := w.GetBundleRecord(id)
	if !existed {
		rec = BundleRecord{Info: BundleInfo{M6ID: id}, Knownness: BundleUnknown}
	}
	rec.History = append(rec.History, BundleStatusEntry{Status: BundleSubmitted, Height: height})
	w.PutBundleRecord(id, rec)
	return nil
}

func applyBundleConfirmed(w *WriteTx, id M6ID, height uint32) error {
	rec, ok := w.GetBundleRecord(id)
	if ok {
		rec.History = append(rec.History, BundleStatusEntry{Status: BundleConfirmed, Height: height})
		w.PutBundleRecord(id, rec)
		return nil
	}

	if height != 0 {
		return ErrUnknownWithdrawalBundleConfirmed
	}

	var drained []OutPoint
	w.IterateUTXOs(func(op OutPoint, _ Output) bool {
		drained = append(drained, op)
		return true
	})
	for _, op := range drained {
		out, ok := w.GetUTXO(op)
		if !ok {
			continue
		}
		w.DeleteUTXO(op)
		w.PutSTXO(op, SpentOutput{Output: out, InPoint: InPoint{Kind: InPointWithdrawal, M6ID: id}})
	}
	w.PutBundleRecord(id, BundleRecord{
		Info:         BundleInfo{M6ID: id},
		Knownness:    BundleUnknownConfirmed,
		History:      []BundleStatusEntry{{Status: BundleConfirmed, Height: height}},
		DrainedUTXOs: drained,
	})
	return nil
}

func applyBundleFailed(w *WriteTx, id M6ID, height uint32) error {
	rec, ok := w.GetBundleRecord(id)
	if !ok {
		w.PutBundleRecord(id, BundleRecord{
			Info:      BundleInfo{M6ID: id},
			Knownness: BundleUnknown,
			History:   []BundleStatusEntry{{Status: BundleFailed, Height: height}},
		})
		return nil
	}

	for _, op := range rec.Info.SpendUTXOs {
		stxo, present := w.GetSTXO(op)
		if !present {
			continue
		}
		w.DeleteSTXO(op)
		w.PutUTXO(op, stxo.Output)
	}
	rec.History = append(rec.History, BundleStatusEntry{Status: BundleFailed, Height: height})
	w.PutBundleRecord(id, rec)
	w.PushFailedBundleRollback(id)
	w.SetLastFailureHeight(height)
	return nil
}

// tryAssembleBundle aggregates every current Withdrawal-content UTXO by
// destination address, greedily builds a new pending bundle when the
// cooldown since the last failure has elapsed and no bundle is pending
// (§4.5), and computes its deterministic m6id.
func tryAssembleBundle(w *WriteTx, height uint32) (Bundle, bool) {
	if _, _, hasPending := w.PendingWithdrawalBundle(); hasPending {
		return Bundle{}, false
	}
	if last := w.LastFailureHeight(); height < last+bundleAssemblyCooldown {
		return Bundle{}, false
	}

	type agg struct {
		addr  string
		value uint64
		fee   uint64
		spend []OutPoint
	}
	byAddr := make(map[string]*agg)
	var order []string
	w.IterateUTXOs(func(op OutPoint, out Output) bool {
		if out.Content != ContentWithdrawal {
			return true
		}
		a, ok := byAddr[out.MainAddress]
		if !ok {
			a = &agg{addr: out.MainAddress}
			byAddr[out.MainAddress] = a
			order = append(order, out.MainAddress)
		}
		a.value += out.Value
		a.fee += out.MainFee
		a.spend = append(a.spend, op)
		return true
	})
	if len(order) == 0 {
		return Bundle{}, false
	}

	aggs := make([]*agg, 0, len(order))
	for _, addr := range order {
		aggs = append(aggs, byAddr[addr])
	}
	sort.SliceStable(aggs, func(i, j int) bool {
		if aggs[i].value != aggs[j].value {
			return aggs[i].value > aggs[j].value
		}
		return aggs[i].fee > aggs[j].fee
	})
	if len(aggs) > MaxBundleOutputs {
		pegLog().WithField("dropped", len(aggs)-MaxBundleOutputs).Warn("withdrawal bundle assembly dropped lowest-ranked destinations past MaxBundleOutputs")
		aggs = aggs[:MaxBundleOutputs]
	}

	var outputs []Output
	var spend []OutPoint
	for _, a := range aggs {
		outputs = append(outputs, Output{Content: ContentWithdrawal, MainAddress: a.addr, Value: a.value, MainFee: a.fee})
		spend = append(spend, a.spend...)
	}

	b := Bundle{SpendUTXOs: spend, Outputs: outputs}
	b.M6ID = computeM6ID(b)
	w.SetPendingWithdrawalBundle(b, height)
	return b, true
}

// computeM6ID derives the withdrawal bundle's deterministic identifier from
// its aggregated outputs and spent inputs.
func computeM6ID(b Bundle) Hash {
	enc, err := EncodeRLP(struct {
		SpendUTXOs []OutPoint
		Outputs    []Output
	}{b.SpendUTXOs, b.Outputs})
	if err != nil {
		panic("core: twowaypeg: bundle does not rlp-encode: " + err.Error())
	}
	return BlakeHash(enc)
}

// DisconnectParentChainEvents is the exact inverse of ApplyParentChainEvents,
// popping history stacks and restoring event-block indices in strict reverse
// order (§4.5 "Disconnect").
func DisconnectParentChainEvents(w *WriteTx, events []ParentBlockEvents, eff BlockEffects) error {
	if eff.HasAssembledBundle {
		if pending, _, ok := w.PendingWithdrawalBundle(); ok && pending.M6ID == eff.AssembledBundleM6ID {
			w.ClearPendingWithdrawalBundle()
		}
	}

	for i := len(events) - 1; i >= 0; i-- {
		blk := events[i]
		sawDeposit := false
		for j := len(blk.Events) - 1; j >= 0; j-- {
			ev := blk.Events[j]
			switch ev.Kind {
			case EventDeposit:
				sawDeposit = true
			case EventWithdrawalBundle:
				if _, ok := w.PopLastWithdrawalEventBlock(); !ok {
					return ErrRollbackMismatch
				}
				if err := disconnectWithdrawalBundleEvent(w, ev.Withdrawal); err != nil {
					return err
				}
			}
		}
		if sawDeposit {
			last, ok := w.PopLastDepositEventBlock()
			if !ok || last.ParentBlockHash != blk.ParentBlockHash {
				return ErrRollbackMismatch
			}
			for j := len(blk.Events) - 1; j >= 0; j-- {
				ev := blk.Events[j]
				if ev.Kind == EventDeposit {
					w.DeleteUTXO(DepositOutPoint(ev.Deposit.ParentOutpoint))
				}
			}
		}
	}
	return nil
}

// previousFailureHeight recomputes last_failure_height after popping the
// rollback stack's top entry, by reading the new top bundle's most recent
// recorded Failed height, or 0 if the stack is now empty — restoring the
// cooldown gate to what it was before the event being disconnected.
func previousFailureHeight(w *WriteTx) uint32 {
	stack := w.readStack()
	if len(stack) == 0 {
		return 0
	}
	rec, ok := w.GetBundleRecord(stack[len(stack)-1])
	if !ok {
		return 0
	}
	for i := len(rec.History) - 1; i >= 0; i-- {
		if rec.History[i].Status == BundleFailed {
			return rec.History[i].Height
		}
	}
	return 0
}

func disconnectWithdrawalBundleEvent(w *WriteTx, ev WithdrawalBundleEvent) error {
	rec, ok := w.GetBundleRecord(ev.M6ID)
	if !ok {
		return ErrRollbackMismatch
	}
	if len(rec.History) == 0 {
		return ErrRollbackMismatch
	}
	top := rec.History[len(rec.History)-1]
	if top.Status != ev.Status {
		return ErrRollbackMismatch
	}
	rec.History = rec.History[:len(rec.History)-1]

	switch ev.Status {
	case BundleSubmitted:
		if rec.Knownness == BundleKnown && len(rec.History) == 0 {
			for _, op := range rec.Info.SpendUTXOs {
				stxo, present := w.GetSTXO(op)
				if !present {
					continue
				}
				w.DeleteSTXO(op)
				w.PutUTXO(op, stxo.Output)
			}
			w.SetPendingWithdrawalBundle(Bundle{M6ID: rec.Info.M6ID, SpendUTXOs: rec.Info.SpendUTXOs, Outputs: rec.Info.Outputs}, top.Height)
			w.DeleteBundleRecord(ev.M6ID)
			return nil
		}
	case BundleConfirmed:
		if rec.Knownness == BundleUnknownConfirmed {
			for _, op := range rec.DrainedUTXOs {
				stxo, present := w.GetSTXO(op)
				if !present {
					continue
				}
				w.DeleteSTXO(op)
				w.PutUTXO(op, stxo.Output)
			}
			w.DeleteBundleRecord(ev.M6ID)
			return nil
		}
	case BundleFailed:
		popped, okPop := w.PopFailedBundleRollback()
		if !okPop || popped != ev.M6ID {
			return ErrRollbackMismatch
		}
		for _, op := range rec.Info.SpendUTXOs {
			out, present := w.GetUTXO(op)
			if !present {
				continue
			}
			w.DeleteUTXO(op)
			w.PutSTXO(op, SpentOutput{Output: out, InPoint: InPoint{Kind: InPointWithdrawal, M6ID: ev.M6ID}})
		}
		w.SetLastFailureHeight(previousFailureHeight(w))
	}

	if len(rec.History) == 0 {
		w.DeleteBundleRecord(ev.M6ID)
		return nil
	}
	w.PutBundleRecord(ev.M6ID, rec)
	return nil
}
