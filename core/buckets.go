package core

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"
)

// txReader is satisfied by both *ReadTx and *WriteTx so the typed accessors
// below work identically under either transaction kind; a write transaction
// reading its own uncommitted writes is expected and correct.
type txReader interface {
	get([]byte) ([]byte, bool)
}

func (r *ReadTx) get(key []byte) ([]byte, bool) { return r.gen.get(key) }

// Bucket tags, one byte each, prefixing every key so distinct typed stores
// never collide in the environment's single flat keyspace.
const (
	bTip byte = iota
	bHeight
	bUTXO
	bSTXO
	bPendingWithdrawalBundle
	bFailedBundleRollbackStack
	bBundleRecord
	bDepositEventBlocks
	bWithdrawalEventBlocks
	bAccumulator
	bSwap
	bSwapByL1Txid
	bSwapByRecipient
	bLockedOutput
	bStateVersion
	bBlockByHeight
	bBlockHashIndex
	bLastFailureHeight
	bBlockEffects
	bMainHeader
	bMainTip
)

func bucketKey(b byte, parts ...[]byte) []byte {
	n := 1
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	out = append(out, b)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func u32le(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func storeLog() *logrus.Entry { return logrus.WithField("component", "store") }

// getTyped decodes an RLP-encoded record. A deserialization failure on the
// value is logged and treated as absent rather than returned as an error —
// §4.2's corruption-tolerant loader contract.
func getTyped[T any](r txReader, key []byte) (T, bool) {
	var zero T
	raw, ok := r.get(key)
	if !ok {
		return zero, false
	}
	var v T
	if err := DecodeRLP(raw, &v); err != nil {
		storeLog().WithError(err).WithField("key", fmt.Sprintf("%x", key)).Warn("corrupted entry, treating as absent")
		return zero, false
	}
	return v, true
}

func putTyped[T any](w *WriteTx, key []byte, v T) {
	raw, err := EncodeRLP(v)
	if err != nil {
		// Every persisted type here is RLP-friendly by construction
		// (fixed-width scalars, []byte, and slices/structs thereof); a
		// failure here means a type was added without keeping that
		// discipline, which is a programmer error, not a runtime one.
		panic(fmt.Sprintf("core: store: value for key %x does not RLP-encode: %v", key, err))
	}
	w.set(key, raw)
}

// --- tip / height / state_version -----------------------------------------

func (r *ReadTx) Tip() (Hash, bool) {
	raw, ok := r.get(bucketKey(bTip))
	if !ok || len(raw) != 32 {
		return Hash{}, false
	}
	var h Hash
	copy(h[:], raw)
	return h, true
}

func (w *WriteTx) SetTip(h Hash) { w.set(bucketKey(bTip), append([]byte(nil), h[:]...)) }

func (r *ReadTx) Height() (uint32, bool) {
	raw, ok := r.get(bucketKey(bHeight))
	if !ok || len(raw) != 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(raw), true
}

func (w *WriteTx) SetHeight(h uint32) { w.set(bucketKey(bHeight), u32le(h)) }

func (r *ReadTx) StateVersion() (uint32, bool) {
	raw, ok := r.get(bucketKey(bStateVersion))
	if !ok || len(raw) != 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(raw), true
}

func (w *WriteTx) SetStateVersion(v uint32) { w.set(bucketKey(bStateVersion), u32le(v)) }

// --- utxos / stxos ----------------------------------------------------------

func keyOutPoint(op OutPoint) []byte {
	enc, err := EncodeRLP(op)
	if err != nil {
		panic(fmt.Sprintf("core: store: outpoint does not rlp-encode: %v", err))
	}
	return enc
}

func (r *ReadTx) GetUTXO(op OutPoint) (Output, bool) {
	return getTyped[Output](r, bucketKey(bUTXO, keyOutPoint(op)))
}

func (w *WriteTx) PutUTXO(op OutPoint, out Output) {
	putTyped(w, bucketKey(bUTXO, keyOutPoint(op)), out)
}

func (w *WriteTx) DeleteUTXO(op OutPoint) { w.delete(bucketKey(bUTXO, keyOutPoint(op))) }

func (r *ReadTx) GetSTXO(op OutPoint) (SpentOutput, bool) {
	return getTyped[SpentOutput](r, bucketKey(bSTXO, keyOutPoint(op)))
}

func (w *WriteTx) PutSTXO(op OutPoint, s SpentOutput) {
	putTyped(w, bucketKey(bSTXO, keyOutPoint(op)), s)
}

func (w *WriteTx) DeleteSTXO(op OutPoint) { w.delete(bucketKey(bSTXO, keyOutPoint(op))) }

// IterateUTXOs visits every utxo record. Corrupted entries are skipped (and
// logged) rather than aborting iteration.
func (r *ReadTx) IterateUTXOs(fn func(OutPoint, Output) bool) { iterateUTXOsMap(r.gen.data, fn) }

// IterateUTXOs also works mid-write (e.g. bundle assembly needs to see this
// block's own not-yet-committed utxo changes).
func (w *WriteTx) IterateUTXOs(fn func(OutPoint, Output) bool) { iterateUTXOsMap(w.data, fn) }

func iterateUTXOsMap(data map[string][]byte, fn func(OutPoint, Output) bool) {
	for k, raw := range data {
		kb := []byte(k)
		if len(kb) == 0 || kb[0] != bUTXO {
			continue
		}
		var op OutPoint
		if err := DecodeRLP(kb[1:], &op); err != nil {
			storeLog().WithError(err).Warn("corrupted utxo key, skipping")
			continue
		}
		var out Output
		if err := DecodeRLP(raw, &out); err != nil {
			storeLog().WithError(err).Warn("corrupted utxo value, skipping")
			continue
		}
		if !fn(op, out) {
			return
		}
	}
}

// --- pending withdrawal bundle ----------------------------------------------

type pendingBundleRecord struct {
	Bundle Bundle
	Height uint32
}

func (r *ReadTx) PendingWithdrawalBundle() (Bundle, uint32, bool) {
	rec, ok := getTyped[pendingBundleRecord](r, bucketKey(bPendingWithdrawalBundle))
	if !ok {
		return Bundle{}, 0, false
	}
	return rec.Bundle, rec.Height, true
}

func (w *WriteTx) SetPendingWithdrawalBundle(b Bundle, height uint32) {
	putTyped(w, bucketKey(bPendingWithdrawalBundle), pendingBundleRecord{Bundle: b, Height: height})
}

func (w *WriteTx) ClearPendingWithdrawalBundle() { w.delete(bucketKey(bPendingWithdrawalBundle)) }

// --- latest failed bundle rollback stack -------------------------------------

func (r *ReadTx) FailedBundleRollbackStack() []M6ID {
	stack, _ := getTyped[[]M6ID](r, bucketKey(bFailedBundleRollbackStack))
	return stack
}

func (w *WriteTx) PushFailedBundleRollback(id M6ID) {
	stack := w.readStack()
	stack = append(stack, id)
	putTyped(w, bucketKey(bFailedBundleRollbackStack), stack)
}

func (w *WriteTx) readStack() []M6ID {
	stack, _ := getTyped[[]M6ID](w, bucketKey(bFailedBundleRollbackStack))
	return stack
}

// PopFailedBundleRollback pops the most recently pushed m6id. ok is false
// (a ErrRollbackMismatch condition for the caller to raise) if the stack is
// empty.
func (w *WriteTx) PopFailedBundleRollback() (M6ID, bool) {
	stack := w.readStack()
	if len(stack) == 0 {
		return M6ID{}, false
	}
	last := stack[len(stack)-1]
	stack = stack[:len(stack)-1]
	if len(stack) == 0 {
		w.delete(bucketKey(bFailedBundleRollbackStack))
	} else {
		putTyped(w, bucketKey(bFailedBundleRollbackStack), stack)
	}
	return last, true
}

// --- bundles: m6id -> (BundleInfo, History<Status>) --------------------------

func (r *ReadTx) GetBundleRecord(id M6ID) (BundleRecord, bool) {
	return getTyped[BundleRecord](r, bucketKey(bBundleRecord, id[:]))
}

func (w *WriteTx) PutBundleRecord(id M6ID, rec BundleRecord) {
	putTyped(w, bucketKey(bBundleRecord, id[:]), rec)
}

func (w *WriteTx) DeleteBundleRecord(id M6ID) { w.delete(bucketKey(bBundleRecord, id[:])) }

// --- deposit / withdrawal event-block logs -----------------------------------
//
// Persisted as one append-mostly slice per log rather than per-sequence
// keys: both logs are small (one entry per parent-chain block carrying
// events) compared to the utxo/swap keyspaces, so the simpler whole-value
// rewrite costs nothing in practice and removes a counter key to keep
// consistent with the slice.

type DepositEventBlockRecord struct {
	ParentBlockHash Hash
	Height          uint32
}

type WithdrawalEventBlockRecord struct {
	ParentBlockHash Hash
	Height          uint32
}

func (r *ReadTx) DepositEventBlocks() []DepositEventBlockRecord {
	v, _ := getTyped[[]DepositEventBlockRecord](r, bucketKey(bDepositEventBlocks))
	return v
}

func (w *WriteTx) AppendDepositEventBlock(rec DepositEventBlockRecord) {
	list, _ := getTyped[[]DepositEventBlockRecord](w, bucketKey(bDepositEventBlocks))
	list = append(list, rec)
	putTyped(w, bucketKey(bDepositEventBlocks), list)
}

func (w *WriteTx) PopLastDepositEventBlock() (DepositEventBlockRecord, bool) {
	list, _ := getTyped[[]DepositEventBlockRecord](w, bucketKey(bDepositEventBlocks))
	if len(list) == 0 {
		return DepositEventBlockRecord{}, false
	}
	last := list[len(list)-1]
	list = list[:len(list)-1]
	putTyped(w, bucketKey(bDepositEventBlocks), list)
	return last, true
}

func (r *ReadTx) WithdrawalEventBlocks() []WithdrawalEventBlockRecord {
	v, _ := getTyped[[]WithdrawalEventBlockRecord](r, bucketKey(bWithdrawalEventBlocks))
	return v
}

func (w *WriteTx) AppendWithdrawalEventBlock(rec WithdrawalEventBlockRecord) {
	list, _ := getTyped[[]WithdrawalEventBlockRecord](w, bucketKey(bWithdrawalEventBlocks))
	list = append(list, rec)
	putTyped(w, bucketKey(bWithdrawalEventBlocks), list)
}

func (w *WriteTx) PopLastWithdrawalEventBlock() (WithdrawalEventBlockRecord, bool) {
	list, _ := getTyped[[]WithdrawalEventBlockRecord](w, bucketKey(bWithdrawalEventBlocks))
	if len(list) == 0 {
		return WithdrawalEventBlockRecord{}, false
	}
	last := list[len(list)-1]
	list = list[:len(list)-1]
	putTyped(w, bucketKey(bWithdrawalEventBlocks), list)
	return last, true
}

// --- accumulator --------------------------------------------------------------

func (r *ReadTx) GetAccumulator() (Accumulator, bool) {
	return getTyped[Accumulator](r, bucketKey(bAccumulator))
}

func (w *WriteTx) SetAccumulator(a Accumulator) { putTyped(w, bucketKey(bAccumulator), a) }

// --- swaps and their secondary indices ----------------------------------------

func (r *ReadTx) GetSwap(id Hash) (Swap, bool) { return getTyped[Swap](r, bucketKey(bSwap, id[:])) }

func (w *WriteTx) PutSwap(s Swap) { putTyped(w, bucketKey(bSwap, s.ID[:]), s) }

func (w *WriteTx) DeleteSwap(id Hash) { w.delete(bucketKey(bSwap, id[:])) }

// IterateSwaps visits every swap record, skipping (and logging) any that
// fail to deserialize.
func (r *ReadTx) IterateSwaps(fn func(Swap) bool) { iterateSwapsMap(r.gen.data, fn) }
func (w *WriteTx) IterateSwaps(fn func(Swap) bool) { iterateSwapsMap(w.data, fn) }

func iterateSwapsMap(data map[string][]byte, fn func(Swap) bool) {
	for k, raw := range data {
		kb := []byte(k)
		if len(kb) == 0 || kb[0] != bSwap {
			continue
		}
		var s Swap
		if err := DecodeRLP(raw, &s); err != nil {
			storeLog().WithError(err).Warn("corrupted swap record, skipping")
			continue
		}
		if !fn(s) {
			return
		}
	}
}

func keySwapByL1Txid(chain ParentChain, txid Hash) []byte {
	return bucketKey(bSwapByL1Txid, []byte{byte(chain)}, txid[:])
}

func (r *ReadTx) SwapByL1Txid(chain ParentChain, txid Hash) (Hash, bool) {
	return getTyped[Hash](r, keySwapByL1Txid(chain, txid))
}

func (w *WriteTx) SetSwapByL1Txid(chain ParentChain, txid Hash, swapID Hash) {
	putTyped(w, keySwapByL1Txid(chain, txid), swapID)
}

func (w *WriteTx) DeleteSwapByL1Txid(chain ParentChain, txid Hash) {
	w.delete(keySwapByL1Txid(chain, txid))
}

func keySwapsByRecipient(addr Address) []byte {
	return bucketKey(bSwapByRecipient, addr[:])
}

func (r *ReadTx) SwapsByRecipient(addr Address) []Hash {
	v, _ := getTyped[[]Hash](r, keySwapsByRecipient(addr))
	return v
}

func (w *WriteTx) AddSwapByRecipient(addr Address, swapID Hash) {
	list, _ := getTyped[[]Hash](w, keySwapsByRecipient(addr))
	list = append(list, swapID)
	putTyped(w, keySwapsByRecipient(addr), list)
}

func (w *WriteTx) RemoveSwapByRecipient(addr Address, swapID Hash) {
	list, _ := getTyped[[]Hash](w, keySwapsByRecipient(addr))
	out := list[:0]
	for _, id := range list {
		if id != swapID {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		w.delete(keySwapsByRecipient(addr))
		return
	}
	putTyped(w, keySwapsByRecipient(addr), out)
}

// --- locked_outputs: OutPoint -> SwapId ---------------------------------------

func (r *ReadTx) LockedOutputSwap(op OutPoint) (Hash, bool) {
	return getTyped[Hash](r, bucketKey(bLockedOutput, keyOutPoint(op)))
}

func (w *WriteTx) LockOutput(op OutPoint, swapID Hash) {
	putTyped(w, bucketKey(bLockedOutput, keyOutPoint(op)), swapID)
}

func (w *WriteTx) UnlockOutput(op OutPoint) { w.delete(bucketKey(bLockedOutput, keyOutPoint(op))) }

// IterateLockedOutputs visits every lock-table entry.
func (r *ReadTx) IterateLockedOutputs(fn func(OutPoint, Hash) bool) {
	iterateLockedOutputsMap(r.gen.data, fn)
}
func (w *WriteTx) IterateLockedOutputs(fn func(OutPoint, Hash) bool) {
	iterateLockedOutputsMap(w.data, fn)
}

func iterateLockedOutputsMap(data map[string][]byte, fn func(OutPoint, Hash) bool) {
	for k, raw := range data {
		kb := []byte(k)
		if len(kb) == 0 || kb[0] != bLockedOutput {
			continue
		}
		var op OutPoint
		if err := DecodeRLP(kb[1:], &op); err != nil {
			storeLog().WithError(err).Warn("corrupted lock-table key, skipping")
			continue
		}
		var id Hash
		if err := DecodeRLP(raw, &id); err != nil {
			storeLog().WithError(err).Warn("corrupted lock-table value, skipping")
			continue
		}
		if !fn(op, id) {
			return
		}
	}
}

// --- block archive (supports reconstruct_swaps_from_blockchain and the
// block engine's own ancestor lookups; not one of §4.2's named stores but
// required by operations the spec does name, grounded directly on
// core/ledger.go's Blocks/blockIndex/GetBlock/BlockByHash/HasBlock) ----------

func (r *ReadTx) GetBlock(height uint32) (Block, bool) {
	return getTyped[Block](r, bucketKey(bBlockByHeight, u32le(height)))
}

func (w *WriteTx) PutBlock(height uint32, blk Block) {
	putTyped(w, bucketKey(bBlockByHeight, u32le(height)), blk)
	h, err := blk.Hash()
	if err != nil {
		return
	}
	w.set(bucketKey(bBlockHashIndex, h[:]), u32le(height))
}

func (r *ReadTx) BlockByHash(h Hash) (Block, bool) {
	raw, ok := r.get(bucketKey(bBlockHashIndex, h[:]))
	if !ok || len(raw) != 4 {
		return Block{}, false
	}
	return r.GetBlock(binary.LittleEndian.Uint32(raw))
}

func (r *ReadTx) HasBlock(h Hash) bool {
	_, ok := r.get(bucketKey(bBlockHashIndex, h[:]))
	return ok
}

// --- read-your-writes accessors on WriteTx -----------------------------------
//
// Block connect needs to read state it has itself just written within the
// same write transaction (e.g. bundle assembly reading utxos the event
// processing pass of the same connect already touched), so every ReadTx
// accessor above has a WriteTx twin backed by the same getTyped helper.

func (w *WriteTx) GetUTXO(op OutPoint) (Output, bool) {
	return getTyped[Output](w, bucketKey(bUTXO, keyOutPoint(op)))
}

func (w *WriteTx) GetSTXO(op OutPoint) (SpentOutput, bool) {
	return getTyped[SpentOutput](w, bucketKey(bSTXO, keyOutPoint(op)))
}

func (w *WriteTx) PendingWithdrawalBundle() (Bundle, uint32, bool) {
	rec, ok := getTyped[pendingBundleRecord](w, bucketKey(bPendingWithdrawalBundle))
	if !ok {
		return Bundle{}, 0, false
	}
	return rec.Bundle, rec.Height, true
}

func (w *WriteTx) GetBundleRecord(id M6ID) (BundleRecord, bool) {
	return getTyped[BundleRecord](w, bucketKey(bBundleRecord, id[:]))
}

func (w *WriteTx) GetSwap(id Hash) (Swap, bool) {
	return getTyped[Swap](w, bucketKey(bSwap, id[:]))
}

func (w *WriteTx) LockedOutputSwap(op OutPoint) (Hash, bool) {
	return getTyped[Hash](w, bucketKey(bLockedOutput, keyOutPoint(op)))
}

func (w *WriteTx) SwapByL1Txid(chain ParentChain, txid Hash) (Hash, bool) {
	return getTyped[Hash](w, keySwapByL1Txid(chain, txid))
}

func (w *WriteTx) SwapsByRecipient(addr Address) []Hash {
	v, _ := getTyped[[]Hash](w, keySwapsByRecipient(addr))
	return v
}

func (w *WriteTx) GetAccumulator() (Accumulator, bool) {
	return getTyped[Accumulator](w, bucketKey(bAccumulator))
}

func (w *WriteTx) Tip() (Hash, bool) {
	raw, ok := w.get(bucketKey(bTip))
	if !ok || len(raw) != 32 {
		return Hash{}, false
	}
	var h Hash
	copy(h[:], raw)
	return h, true
}

func (w *WriteTx) Height() (uint32, bool) {
	raw, ok := w.get(bucketKey(bHeight))
	if !ok || len(raw) != 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(raw), true
}

func (w *WriteTx) GetBlock(height uint32) (Block, bool) {
	return getTyped[Block](w, bucketKey(bBlockByHeight, u32le(height)))
}

func (w *WriteTx) BlockByHash(h Hash) (Block, bool) {
	raw, ok := w.get(bucketKey(bBlockHashIndex, h[:]))
	if !ok || len(raw) != 4 {
		return Block{}, false
	}
	return w.GetBlock(binary.LittleEndian.Uint32(raw))
}

func (w *WriteTx) DepositEventBlocks() []DepositEventBlockRecord {
	v, _ := getTyped[[]DepositEventBlockRecord](w, bucketKey(bDepositEventBlocks))
	return v
}

func (w *WriteTx) WithdrawalEventBlocks() []WithdrawalEventBlockRecord {
	v, _ := getTyped[[]WithdrawalEventBlockRecord](w, bucketKey(bWithdrawalEventBlocks))
	return v
}

// --- last withdrawal-bundle-failure height, and per-block undo effects -------
//
// Neither is one of §4.2's named stores; both are required to make
// disconnect_tip exact for the two-way peg reconciler's bundle-assembly
// trigger (height - last_failure_height >= 4) and for reverting effects
// (swap expiry, bundle assembly) that aren't themselves persisted records.

func (r *ReadTx) LastFailureHeight() uint32 {
	v, _ := getTyped[uint32](r, bucketKey(bLastFailureHeight))
	return v
}

func (w *WriteTx) LastFailureHeight() uint32 {
	v, _ := getTyped[uint32](w, bucketKey(bLastFailureHeight))
	return v
}

func (w *WriteTx) SetLastFailureHeight(h uint32) { putTyped(w, bucketKey(bLastFailureHeight), h) }

// BlockEffects records the non-reconstructible side effects of one connect
// (swaps expired by height, a bundle assembled) so disconnect_tip can revert
// them precisely instead of re-deriving them from scratch.
type BlockEffects struct {
	ExpiredSwapIDs      []Hash
	HasAssembledBundle  bool
	AssembledBundleM6ID Hash
}

func (r *ReadTx) GetBlockEffects(blockHash Hash) (BlockEffects, bool) {
	return getTyped[BlockEffects](r, bucketKey(bBlockEffects, blockHash[:]))
}

func (w *WriteTx) GetBlockEffects(blockHash Hash) (BlockEffects, bool) {
	return getTyped[BlockEffects](w, bucketKey(bBlockEffects, blockHash[:]))
}

func (w *WriteTx) PutBlockEffects(blockHash Hash, eff BlockEffects) {
	putTyped(w, bucketKey(bBlockEffects, blockHash[:]), eff)
}

func (w *WriteTx) DeleteBlockEffects(blockHash Hash) { w.delete(bucketKey(bBlockEffects, blockHash[:])) }

// --- mainchain header archive (§4.7; backs ParentChainArchive.IsDescendant) --
//
// Not one of §4.2's named stores either, but the archive the mainchain
// fetch task populates and the block engine's prev_main_hash check reads.
// Keyed by parent-chain block hash, each entry records just enough to walk
// ancestry: its own height and its parent's hash.

type MainHeaderRecord struct {
	Hash      Hash
	PrevHash  Hash
	Height    uint64
	IsGenesis bool
}

func (r *ReadTx) GetMainHeader(hash Hash) (MainHeaderRecord, bool) {
	return getTyped[MainHeaderRecord](r, bucketKey(bMainHeader, hash[:]))
}

func (w *WriteTx) GetMainHeader(hash Hash) (MainHeaderRecord, bool) {
	return getTyped[MainHeaderRecord](w, bucketKey(bMainHeader, hash[:]))
}

func (w *WriteTx) PutMainHeader(rec MainHeaderRecord) {
	putTyped(w, bucketKey(bMainHeader, rec.Hash[:]), rec)
}

func (r *ReadTx) HasMainHeader(hash Hash) bool {
	_, ok := r.get(bucketKey(bMainHeader, hash[:]))
	return ok
}

func (w *WriteTx) HasMainHeader(hash Hash) bool {
	_, ok := w.get(bucketKey(bMainHeader, hash[:]))
	return ok
}

// MainTip is the archive's own notion of the furthest-known parent-chain
// block, independent of the sidechain tip; the mainchain fetch task advances
// it as it persists new ancestor batches.
func (r *ReadTx) MainTip() (Hash, bool) {
	return getTyped[Hash](r, bucketKey(bMainTip))
}

func (w *WriteTx) SetMainTip(h Hash) { putTyped(w, bucketKey(bMainTip), h) }
