package core

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ParentChainArchive is the narrow interface the block engine needs into the
// mainchain header archive the mainchain fetch task populates (§4.7): given
// two parent-chain block hashes, is the first a descendant of the second.
// The genesis parent-chain hash is its own ancestor (reflexive), so a header
// whose prev_main_hash repeats the tip's still validates.
type ParentChainArchive interface {
	IsDescendant(candidate, ancestor Hash) bool
}

// PrevalidatedBlock is the result of running prevalidate under a read
// transaction (§4.4.2): everything connect_prevalidated needs, computed once
// so re-validating under the write transaction is never required.
type PrevalidatedBlock struct {
	Header Header
	Body   Body

	FilledTransactions []FilledTransaction
	ComputedMerkleRoot Hash
	TotalFees          uint64
	CoinbaseValue      uint64
	NextHeight         uint32
	AccumulatorDiff    AccumulatorDiff
}

func blockMerkleRoot(b Body) (Hash, error) {
	blk := Block{Body: b}
	leaves, err := blk.Leaves()
	if err != nil {
		return Hash{}, err
	}
	tree, err := BuildMerkleTree(leaves)
	if err != nil {
		return Hash{}, err
	}
	return Hash(tree[len(tree)-1][0]), nil
}

// ValidateHeader checks header H on top of tip T (§4.4.1): H.prev_side_hash
// must equal T, and H.prev_main_hash must be an ancestor-descendant of T's
// own prev_main_hash in the parent-chain archive.
func ValidateHeader(archive ParentChainArchive, header Header, tip Hash, tipPrevMainHash Hash) error {
	if header.HasPrevSideHash {
		if header.PrevSideHash != tip {
			return fmt.Errorf("%w: got %s, want %s", ErrBadPrevSideHash, header.PrevSideHash, tip)
		}
	} else if !tip.IsZero() {
		return fmt.Errorf("%w: header has no prev_side_hash but tip is not genesis", ErrBadPrevSideHash)
	}
	if !archive.IsDescendant(header.PrevMainHash, tipPrevMainHash) {
		return ErrBadPrevMainHash
	}
	return nil
}

// Prevalidate runs under a read transaction and returns everything
// connect_prevalidated needs (§4.4.2): body size/sigops limits, the computed
// merkle root, every transaction filled and validated, and the accumulator
// diff the connect must apply exactly once.
func Prevalidate(r *ReadTx, archive ParentChainArchive, header Header, body Body) (PrevalidatedBlock, error) {
	tip, hasTip := r.Tip()
	height, hasHeight := r.Height()
	nextHeight := uint32(0)
	if hasHeight {
		nextHeight = height + 1
	}

	tipPrevMain := Hash{}
	if hasTip {
		if blk, ok := r.BlockByHash(tip); ok {
			tipPrevMain = blk.Header.PrevMainHash
		}
	}
	if err := ValidateHeader(archive, header, tip, tipPrevMain); err != nil {
		return PrevalidatedBlock{}, err
	}

	sizeLimit := BodySizeLimit(uint64(nextHeight))
	if bodySize(body) > sizeLimit {
		return PrevalidatedBlock{}, ErrBodyTooLarge
	}
	sigopsLimit := BodySigopsLimit(uint64(nextHeight))
	if bodySigops(body) > sigopsLimit {
		return PrevalidatedBlock{}, ErrTooManySigops
	}

	root, err := blockMerkleRoot(body)
	if err != nil {
		return PrevalidatedBlock{}, err
	}
	if root != header.MerkleRoot {
		return PrevalidatedBlock{}, ErrMerkleMismatch
	}

	filled := make([]FilledTransaction, 0, len(body.Transactions))
	var totalFees uint64
	var insertHashes []Hash
	var removeHashes []Hash
	for _, tx := range body.Transactions {
		ft, fee, err := ValidateTransaction(r, tx)
		if err != nil {
			return PrevalidatedBlock{}, err
		}
		next := totalFees + fee
		if next < totalFees {
			return PrevalidatedBlock{}, ErrValueOverflow
		}
		totalFees = next
		filled = append(filled, ft)

		txid := transactionID(tx)
		for i, out := range tx.Outputs {
			lh, err := LeafHash(RegularOutPoint(txid, uint32(i)), out)
			if err != nil {
				return PrevalidatedBlock{}, err
			}
			insertHashes = append(insertHashes, lh)
		}
		for i, in := range tx.Inputs {
			removeHashes = append(removeHashes, in.UTXOLeafHash)
			_ = i
		}
	}

	var coinbaseValue uint64
	for _, out := range body.CoinbaseOutputs {
		next := coinbaseValue + out.Value
		if next < coinbaseValue {
			return PrevalidatedBlock{}, ErrValueOverflow
		}
		coinbaseValue = next
	}
	if coinbaseValue > totalFees {
		return PrevalidatedBlock{}, ErrCoinbaseTooLarge
	}

	blockHash, err := (Block{Header: header, Body: body}).Hash()
	if err != nil {
		return PrevalidatedBlock{}, err
	}
	for i, out := range body.CoinbaseOutputs {
		lh, err := LeafHash(CoinbaseOutPoint(blockHash, uint32(i)), out)
		if err != nil {
			return PrevalidatedBlock{}, err
		}
		insertHashes = append(insertHashes, lh)
	}

	return PrevalidatedBlock{
		Header:             header,
		Body:                body,
		FilledTransactions: filled,
		ComputedMerkleRoot: root,
		TotalFees:          totalFees,
		CoinbaseValue:      coinbaseValue,
		NextHeight:         nextHeight,
		AccumulatorDiff:    AccumulatorDiff{InsertHashes: insertHashes, RemoveHashes: removeHashes},
	}, nil
}

func bodySize(b Body) uint64 {
	blk := Block{Body: b}
	leaves, err := blk.Leaves()
	if err != nil {
		return ^uint64(0)
	}
	var total uint64
	for _, l := range leaves {
		total += uint64(len(l))
	}
	return total
}

func bodySigops(b Body) uint64 {
	var total uint64
	for _, tx := range b.Transactions {
		total += uint64(tx.SigopsCount())
	}
	return total
}

// transactionID identifies a transaction within a block by the RLP encoding
// of its inputs and outputs (excluding witnesses, which do not affect which
// outputs a transaction creates).
func transactionID(tx Transaction) Hash {
	unsigned := tx
	unsigned.Witnesses = nil
	enc, err := EncodeRLP(unsigned)
	if err != nil {
		panic("core: blockengine: transaction does not rlp-encode: " + err.Error())
	}
	return HashBytes(enc)
}

// ConnectPrevalidated applies pb's effects under w (§4.4.2): re-checks that
// tip/height have not advanced since prevalidation, applies the utxo
// changes, processes swap-bearing transactions, runs the two-way peg
// reconciler against pegEvents, runs the swap engine's per-block expiry
// pass, and mutates the accumulator exactly once.
func ConnectPrevalidated(w *WriteTx, pb PrevalidatedBlock, pegEvents []ParentBlockEvents) error {
	timer := prometheus.NewTimer(blockConnectSeconds)
	defer timer.ObserveDuration()

	tip, hasTip := w.Tip()
	height, hasHeight := w.Height()
	observedNext := uint32(0)
	if hasHeight {
		observedNext = height + 1
	}
	if observedNext != pb.NextHeight {
		return ErrStaleConnect
	}
	if pb.Header.HasPrevSideHash && pb.Header.PrevSideHash != tip {
		return ErrStaleConnect
	}

	acc, _ := w.GetAccumulator()
	newAcc, err := acc.ApplyDiff(pb.AccumulatorDiff)
	if err != nil {
		return err
	}
	w.SetAccumulator(newAcc)

	for _, ft := range pb.FilledTransactions {
		txid := transactionID(ft.Tx)
		for i, in := range ft.Tx.Inputs {
			w.DeleteUTXO(in.OutPoint)
			w.PutSTXO(in.OutPoint, SpentOutput{
				Output:  ft.SpentOutputs[i],
				InPoint: InPoint{Kind: InPointRegular, Txid: txid, Vin: uint32(i)},
			})
		}
		for i, out := range ft.Tx.Outputs {
			w.PutUTXO(RegularOutPoint(txid, uint32(i)), out)
		}

		switch ft.Tx.DataKind {
		case TxSwapCreate:
			if err := ConnectSwapCreate(w, pb.NextHeight, ft.Tx, txid); err != nil {
				return err
			}
		case TxSwapClaim:
			if err := ConnectSwapClaim(w, ft.Tx); err != nil {
				return err
			}
		}
	}

	blockHash, err := (Block{Header: pb.Header, Body: pb.Body}).Hash()
	if err != nil {
		return err
	}
	for i, out := range pb.Body.CoinbaseOutputs {
		w.PutUTXO(CoinbaseOutPoint(blockHash, uint32(i)), out)
	}

	pegEffects, err := ApplyParentChainEvents(w, pegEvents, pb.NextHeight)
	if err != nil {
		return err
	}

	expired := expireSwaps(w, pb.NextHeight)

	w.PutBlockEffects(blockHash, BlockEffects{
		ExpiredSwapIDs:      expired,
		HasAssembledBundle:  pegEffects.HasAssembledBundle,
		AssembledBundleM6ID: pegEffects.AssembledBundleM6ID,
	})

	w.PutBlock(pb.NextHeight, Block{Header: pb.Header, Body: pb.Body})
	w.SetTip(blockHash)
	w.SetHeight(pb.NextHeight)
	return nil
}

// expireSwaps cancels every Pending swap whose expires_at_height has been
// reached at this connect (§4.6.5), returning the ids cancelled so
// disconnect_tip can restore them to Pending.
func expireSwaps(w *WriteTx, height uint32) []Hash {
	var expired []Hash
	var candidates []Hash
	w.IterateSwaps(func(s Swap) bool {
		if s.State.Kind == SwapPendingState && s.HasExpiresAtHeight && s.ExpiresAtHeight <= height {
			candidates = append(candidates, s.ID)
		}
		return true
	})
	for _, id := range candidates {
		if err := CancelSwap(w, id); err == nil {
			expired = append(expired, id)
		}
	}
	return expired
}

// DisconnectTip reverses connect_prevalidated in strict reverse order
// (§4.4.3): restore swaps this block's expiry pass cancelled, revert two-way
// peg effects, then walk the transactions last to first (revert each swap
// transaction, remove its new outputs, restore its spent outputs), remove
// the coinbase outputs, and apply the inverse accumulator diff. blk and pegEvents must be exactly what was passed to the
// connect being reversed.
func DisconnectTip(w *WriteTx, blk Block, pegEvents []ParentBlockEvents) error {
	blockHash, err := blk.Hash()
	if err != nil {
		return err
	}
	tip, ok := w.Tip()
	if !ok || tip != blockHash {
		return fmt.Errorf("%w: disconnect_tip called against a block that is not the tip", ErrRollbackMismatch)
	}
	height, ok := w.Height()
	if !ok {
		return ErrRollbackMismatch
	}

	eff, ok := w.GetBlockEffects(blockHash)
	if !ok {
		return ErrRollbackMismatch
	}

	for _, id := range eff.ExpiredSwapIDs {
		s, ok := w.GetSwap(id)
		if !ok {
			return ErrRollbackMismatch
		}
		s.State = SwapState{Kind: SwapPendingState}
		w.PutSwap(s)
	}

	if err := DisconnectParentChainEvents(w, pegEvents, eff); err != nil {
		return err
	}

	for i := len(blk.Body.Transactions) - 1; i >= 0; i-- {
		tx := blk.Body.Transactions[i]
		txid := transactionID(tx)

		switch tx.DataKind {
		case TxSwapClaim:
			if err := disconnectSwapClaim(w, tx); err != nil {
				return err
			}
		case TxSwapCreate:
			if err := disconnectSwapCreate(w, tx, txid); err != nil {
				return err
			}
		}

		for vout := range tx.Outputs {
			w.DeleteUTXO(RegularOutPoint(txid, uint32(vout)))
		}
		for vin, in := range tx.Inputs {
			stxo, present := w.GetSTXO(in.OutPoint)
			if !present {
				return fmt.Errorf("%w: missing stxo for input %d", ErrRollbackMismatch, vin)
			}
			w.DeleteSTXO(in.OutPoint)
			w.PutUTXO(in.OutPoint, stxo.Output)
		}
	}
	for vout := range blk.Body.CoinbaseOutputs {
		w.DeleteUTXO(CoinbaseOutPoint(blockHash, uint32(vout)))
	}

	acc, _ := w.GetAccumulator()
	diff, err := recomputeAccumulatorDiff(w, blk, blockHash)
	if err != nil {
		return err
	}
	restoredAcc, err := acc.ApplyDiff(diff.InverseDiff())
	if err != nil {
		return err
	}
	w.SetAccumulator(restoredAcc)

	w.DeleteBlockEffects(blockHash)
	if height == 0 {
		w.delete(bucketKey(bTip))
		w.delete(bucketKey(bHeight))
	} else {
		if prev, ok := w.GetBlock(height - 1); ok {
			ph, err := prev.Hash()
			if err != nil {
				return err
			}
			w.SetTip(ph)
		}
		w.SetHeight(height - 1)
	}
	return nil
}

// recomputeAccumulatorDiff rebuilds the insert/remove leaf hashes for blk the
// same way Prevalidate did, so DisconnectTip can invert them without having
// kept the original PrevalidatedBlock around.
func recomputeAccumulatorDiff(w *WriteTx, blk Block, blockHash Hash) (AccumulatorDiff, error) {
	var insertHashes, removeHashes []Hash
	for _, tx := range blk.Body.Transactions {
		txid := transactionID(tx)
		for i, out := range tx.Outputs {
			lh, err := LeafHash(RegularOutPoint(txid, uint32(i)), out)
			if err != nil {
				return AccumulatorDiff{}, err
			}
			insertHashes = append(insertHashes, lh)
		}
		for _, in := range tx.Inputs {
			removeHashes = append(removeHashes, in.UTXOLeafHash)
		}
	}
	for i, out := range blk.Body.CoinbaseOutputs {
		lh, err := LeafHash(CoinbaseOutPoint(blockHash, uint32(i)), out)
		if err != nil {
			return AccumulatorDiff{}, err
		}
		insertHashes = append(insertHashes, lh)
	}
	return AccumulatorDiff{InsertHashes: insertHashes, RemoveHashes: removeHashes}, nil
}

func disconnectSwapClaim(w *WriteTx, tx Transaction) error {
	cl := tx.SwapClaim
	s, ok := w.GetSwap(cl.SwapID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSwapNotFound, cl.SwapID)
	}
	s.State = SwapState{Kind: SwapReadyToClaim, RequiredConfirmations: s.RequiredConfirmations, Confirmations: s.RequiredConfirmations}
	w.PutSwap(s)
	// The generic per-tx restore (stxo -> utxo) for this transaction's
	// inputs runs after this switch returns, so the spent content is still
	// only visible via the stxo record at this point.
	for _, in := range tx.Inputs {
		if stxo, ok := w.GetSTXO(in.OutPoint); ok && stxo.Output.IsSwapPending() {
			w.LockOutput(in.OutPoint, stxo.Output.SwapID)
		}
	}
	if s.HasL2Recipient {
		w.AddSwapByRecipient(s.L2Recipient, s.ID)
	}
	return nil
}

func disconnectSwapCreate(w *WriteTx, tx Transaction, txid Hash) error {
	sc := tx.SwapCreate
	for i := range tx.Outputs {
		w.UnlockOutput(RegularOutPoint(txid, uint32(i)))
	}
	if sc.HasL2Recipient {
		w.RemoveSwapByRecipient(sc.L2Recipient, sc.SwapID)
	}
	w.DeleteSwap(sc.SwapID)
	return nil
}
