package core

import "errors"

// Not-found errors: validation failures that return a missing key.
var (
	ErrUTXONotFound              = errors.New("core: utxo not found")
	ErrSTXONotFound               = errors.New("core: stxo not found")
	ErrSwapNotFound               = errors.New("core: swap not found")
	ErrBundleNotFound             = errors.New("core: withdrawal bundle not found")
	ErrDepositEventBlockNotFound  = errors.New("core: deposit event block not found")
	ErrWithdrawalEventBlockNotFound = errors.New("core: withdrawal event block not found")
)

// Invariant-violation errors: the block or transaction is rejected outright.
var (
	ErrValueOverflow    = errors.New("core: value overflow")
	ErrValueUnderflow   = errors.New("core: value underflow")
	ErrNotEnoughValueIn = errors.New("core: not enough value in")
	ErrWrongOwner       = errors.New("core: signature does not match output owner")
	ErrSignatureInvalid = errors.New("core: signature verification failed")
	ErrBodyTooLarge     = errors.New("core: block body exceeds size limit")
	ErrTooManySigops    = errors.New("core: block body exceeds sigops limit")
	ErrMerkleMismatch   = errors.New("core: computed merkle root does not match header")
	ErrCoinbaseTooLarge = errors.New("core: coinbase outputs exceed collected fees")
	ErrBadPrevSideHash  = errors.New("core: header does not extend tip")
	ErrBadPrevMainHash  = errors.New("core: prev_main_hash is not a descendant of tip's prev_main_hash")
	ErrStaleConnect     = errors.New("core: tip/height advanced since prevalidation")
)

// Swap-rule errors: the transaction or RPC-driven update is rejected.
var (
	ErrSwapIDMismatch        = errors.New("core: computed swap id does not match declared swap id")
	ErrSwapAlreadyExists     = errors.New("core: swap with this id already exists")
	ErrSwapNotReady          = errors.New("core: swap is not in ReadyToClaim state")
	ErrSwapZeroAmount        = errors.New("core: swap l2_amount must be greater than zero")
	ErrSwapNoOutputs         = errors.New("core: swap create transaction has no outputs")
	ErrSwapInputLocked       = errors.New("core: input is locked to a different live swap")
	ErrSwapOrphanedLock      = errors.New("core: input is locked to an absent or corrupted swap; run cleanup_orphaned_locks")
	ErrSwapPendingMismatch   = errors.New("core: swap_pending outputs do not sum to l2_amount")
	ErrSwapClaimerMismatch   = errors.New("core: l2_claimer_address does not match the stored claimer")
	ErrSwapClaimerMissing    = errors.New("core: open swap has no stored or supplied l2_claimer_address")
	ErrSwapClaimNoLockedIn   = errors.New("core: swap claim does not spend any input locked to its swap id")
	ErrSwapClaimForeignLock  = errors.New("core: swap claim spends an input locked to a different swap")
	ErrSwapClaimNoPayout     = errors.New("core: swap claim has no output paying the resolved recipient")
	ErrSwapNotPending        = errors.New("core: only a Pending swap may be cancelled")
	ErrL1TxidAlreadyUsed     = errors.New("core: l1 txid already associated with a different swap on this parent chain")
	ErrZeroConfirmations     = errors.New("core: update_swap_l1_txid rejects confirmations == 0")
	ErrRegularSpendsLocked   = errors.New("core: regular transaction spends a locked output")
)

// Corruption: logged at warn, the record is treated as absent.
var ErrCorruptedEntry = errors.New("core: stored record failed to deserialize")

// Fatal inconsistencies: surfaced to the caller, no silent repair attempted.
var (
	ErrRollbackMismatch               = errors.New("core: rollback history does not match current height/value")
	ErrUnknownWithdrawalBundleConfirmed = errors.New("core: unknown withdrawal bundle confirmed outside genesis")
)

// I/O and transport: logged, retried by the driver on the next tick.
var (
	ErrRPCEndpointNotConfigured = errors.New("core: no rpc endpoint configured for parent chain")
	ErrRPCTimeout               = errors.New("core: target-chain rpc call timed out")
)
