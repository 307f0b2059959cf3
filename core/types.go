package core

import (
	"crypto/sha256"
	"fmt"
)

// Address and Hash are the two scalar identifiers shared by every record in
// this package. Both are fixed-width byte arrays; the RLP codec (codec.go)
// encodes each as a byte string with its length prefix.
type Address [20]byte

func (a Address) String() string { return fmt.Sprintf("%x", a[:]) }

// AddressZero is the sentinel open-swap address: a SwapCreate's l2_recipient
// compares equal to it exactly when the swap is open (§4.6.1).
var AddressZero = Address{}

type Hash [32]byte

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

func (h Hash) IsZero() bool { return h == Hash{} }

// HashBytes hashes data with the package's general-purpose hash (SHA-256),
// used for merkle roots and header hashes. Leaf hashes for the accumulator
// and swap ids use BLAKE3 instead (codec.go).
func HashBytes(data []byte) Hash { return sha256.Sum256(data) }

// OutPointKind tags the origin of an OutPoint.
type OutPointKind uint8

const (
	OutPointRegular OutPointKind = iota
	OutPointDeposit
	OutPointCoinbase
)

// ParentOutPoint identifies an output on the parent chain, carried opaquely
// by a Deposit OutPoint.
type ParentOutPoint struct {
	Txid Hash
	Vout uint32
}

// OutPoint tags an output by origin: Regular{txid, vout}, Deposit(parent
// outpoint), or Coinbase{block_hash, vout}.
type OutPoint struct {
	Kind           OutPointKind
	Txid           Hash           // Regular
	Vout           uint32         // Regular, Coinbase
	ParentOutpoint ParentOutPoint // Deposit
	BlockHash      Hash           // Coinbase
}

func RegularOutPoint(txid Hash, vout uint32) OutPoint {
	return OutPoint{Kind: OutPointRegular, Txid: txid, Vout: vout}
}

func DepositOutPoint(parent ParentOutPoint) OutPoint {
	return OutPoint{Kind: OutPointDeposit, ParentOutpoint: parent}
}

func CoinbaseOutPoint(blockHash Hash, vout uint32) OutPoint {
	return OutPoint{Kind: OutPointCoinbase, BlockHash: blockHash, Vout: vout}
}

// OutputContentKind tags the content variant of an Output.
type OutputContentKind uint8

const (
	ContentValue OutputContentKind = iota
	ContentWithdrawal
	ContentSwapPending
)

// Output is owned by an address and carries one of three content variants.
// Invariant: a SwapPending output is only ever spendable by a SwapClaim
// transaction whose referenced swap is in state ReadyToClaim (enforced in
// state.go's validate_transaction).
type Output struct {
	Owner   Address
	Content OutputContentKind

	Value uint64 // Value, SwapPending

	MainAddress string // Withdrawal: destination on the parent chain
	MainFee     uint64 // Withdrawal

	SwapID Hash // SwapPending
}

func (o Output) IsSwapPending() bool { return o.Content == ContentSwapPending }

// InPointKind tags what spent an output, recorded alongside a SpentOutput.
type InPointKind uint8

const (
	InPointRegular InPointKind = iota
	InPointWithdrawal
)

type InPoint struct {
	Kind InPointKind
	Txid Hash   // InPointRegular
	Vin  uint32 // InPointRegular
	M6ID Hash   // InPointWithdrawal
}

// SpentOutput pairs a spent Output with the InPoint that spent it, the value
// stored under stxos.
type SpentOutput struct {
	Output  Output
	InPoint InPoint
}

// TxInput references a spendable output together with the Utreexo leaf hash
// committed to at the time the input was selected.
type TxInput struct {
	OutPoint     OutPoint
	UTXOLeafHash Hash
}

// InputWitness authorizes one TxInput: PubKey must hash to the spent
// output's owner address (AddressFromPubKey, security.go) and Signature must
// verify under PubKey over the transaction's signing payload.
type InputWitness struct {
	PubKey    []byte
	Signature []byte
}

// TxDataKind tags a transaction's data variant.
type TxDataKind uint8

const (
	TxRegular TxDataKind = iota
	TxSwapCreate
	TxSwapClaim
)

// SwapCreateData carries the fields a SwapCreate transaction declares; the
// SwapId is re-derived from these fields plus the address of the first
// input's spent UTXO and checked against ID (§4.6.2 rule 1).
type SwapCreateData struct {
	SwapID      Hash
	ParentChain ParentChain

	L1RecipientAddress string
	L1Amount           uint64

	L2Sender    Address
	HasL2Recipient bool
	L2Recipient Address // valid iff HasL2Recipient; zero address means "open swap"
	L2Amount    uint64

	RequiredConfirmations uint32
}

// SwapClaimData carries the fields a SwapClaim transaction declares.
type SwapClaimData struct {
	SwapID            Hash
	HasL2Claimer      bool
	L2ClaimerAddress  Address
}

// Transaction has inputs, a Utreexo proof over their leaves, outputs, and a
// data tag.
type Transaction struct {
	Inputs  []TxInput
	Proof   AccumulatorProof
	Outputs []Output

	// Witnesses authorize each input in order: Witnesses[i] must carry a
	// public key hashing to Inputs[i]'s spent output owner, and a signature
	// over the transaction's signing payload valid under that key
	// (state.go's validate_transaction).
	Witnesses []InputWitness

	DataKind  TxDataKind
	SwapCreate SwapCreateData // valid iff DataKind == TxSwapCreate
	SwapClaim  SwapClaimData  // valid iff DataKind == TxSwapClaim
}

// FilledTransaction pairs a transaction with the resolved spent outputs, one
// per input, in order.
type FilledTransaction struct {
	Tx           Transaction
	SpentOutputs []Output
}

func (ft FilledTransaction) SumInputs() (uint64, error) {
	var total uint64
	for _, o := range ft.SpentOutputs {
		next := total + o.Value
		if next < total {
			return 0, ErrValueOverflow
		}
		total = next
	}
	return total, nil
}

func (tx Transaction) SumOutputs() (uint64, error) {
	var total uint64
	for _, o := range tx.Outputs {
		next := total + o.Value
		if next < total {
			return 0, ErrValueOverflow
		}
		total = next
	}
	return total, nil
}

// SigopsCount approximates the per-transaction signature-operation cost
// charged against body_sigops_limit: one sigop per input, matching the
// teacher's flat fee-per-input costing elsewhere in the pack.
func (tx Transaction) SigopsCount() int { return len(tx.Inputs) }

// Header commits to the block's transactions and the post-connect
// accumulator state, and links to both chains it participates in.
type Header struct {
	MerkleRoot       Hash
	AccumulatorRoots []Hash

	HasPrevSideHash bool
	PrevSideHash    Hash // absent only for the sidechain genesis block

	PrevMainHash Hash
}

// Body carries the coinbase outputs and ordinary transactions.
type Body struct {
	CoinbaseOutputs []Output
	Transactions    []Transaction
}

type Block struct {
	Header Header
	Body   Body
}

// Leaves returns the ordered list of items the merkle root commits to:
// coinbase outputs followed by transactions, each RLP-encoded.
func (b Block) Leaves() ([][]byte, error) {
	leaves := make([][]byte, 0, len(b.Body.CoinbaseOutputs)+len(b.Body.Transactions))
	for _, o := range b.Body.CoinbaseOutputs {
		enc, err := EncodeRLP(o)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, enc)
	}
	for _, tx := range b.Body.Transactions {
		enc, err := EncodeRLP(tx)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, enc)
	}
	return leaves, nil
}

// Hash returns the block hash: SHA-256 over the RLP-encoded header.
func (b Block) Hash() (Hash, error) {
	enc, err := EncodeRLP(b.Header)
	if err != nil {
		return Hash{}, err
	}
	return HashBytes(enc), nil
}

// SwapDirection is always L2ToL1 in this core: the transaction grammar never
// produces L1ToL2, so it is represented but reserved (spec §9 open question).
type SwapDirection uint8

const (
	SwapL2ToL1 SwapDirection = iota
	swapL1ToL2Reserved
)

// SwapStateKind enumerates the five swap lifecycle states.
type SwapStateKind uint8

const (
	SwapPendingState SwapStateKind = iota
	SwapWaitingConfirmations
	SwapReadyToClaim
	SwapCompleted
	SwapCancelled
)

func (k SwapStateKind) String() string {
	switch k {
	case SwapPendingState:
		return "Pending"
	case SwapWaitingConfirmations:
		return "WaitingConfirmations"
	case SwapReadyToClaim:
		return "ReadyToClaim"
	case SwapCompleted:
		return "Completed"
	case SwapCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// SwapState is the swap's current lifecycle position. Confirmations and
// RequiredConfirmations are only meaningful in WaitingConfirmations, but are
// kept populated through ReadyToClaim for observability.
type SwapState struct {
	Kind                  SwapStateKind
	Confirmations         uint32
	RequiredConfirmations uint32
}

// Swap is the full persisted record for one cross-chain atomic swap.
type Swap struct {
	ID                    Hash
	Direction             SwapDirection
	ParentChain           ParentChain
	L1Txid                Hash // zero until detected
	RequiredConfirmations uint32
	State                 SwapState

	HasL2Recipient bool
	L2Recipient    Address
	L2Amount       uint64

	L1RecipientAddress string
	L1Amount           uint64

	HasL2Claimer     bool
	L2ClaimerAddress Address

	CreatedAtHeight uint32

	HasExpiresAtHeight bool
	ExpiresAtHeight    uint32

	HasValidatedAtHeight bool
	ValidatedAtHeight    uint32 // sidechain height at which l1_txid was validated
}

func (s Swap) IsOpen() bool { return !s.HasL2Recipient }

// M6ID is the deterministic identifier of a withdrawal bundle.
type M6ID = Hash

// Bundle is the set of withdrawal outputs aggregated into one parent-chain
// transaction, plus the computed identifier.
type Bundle struct {
	M6ID       M6ID
	SpendUTXOs []OutPoint
	Outputs    []Output // destination, value, fee per output, aggregated by address
}

// BundleInfo is the persisted metadata retained once a bundle leaves the
// pending slot, paired with its status history under the bundles store.
type BundleInfo struct {
	M6ID       M6ID
	SpendUTXOs []OutPoint
	Outputs    []Output
}

type BundleStatusKind uint8

const (
	BundleSubmitted BundleStatusKind = iota
	BundleConfirmed
	BundleFailed
)

func (k BundleStatusKind) String() string {
	switch k {
	case BundleSubmitted:
		return "Submitted"
	case BundleConfirmed:
		return "Confirmed"
	case BundleFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

type BundleStatusEntry struct {
	Status BundleStatusKind
	Height uint32
}

// BundleKnownness tags whether a withdrawal-bundle event was matched against
// the pending slot when it was first observed.
type BundleKnownness uint8

const (
	BundleKnown BundleKnownness = iota
	BundleUnknown
	BundleUnknownConfirmed
)

// BundleRecord is what `bundles: M6id -> (BundleInfo, History<Status>)`
// actually stores: the metadata, its knownness, history, and (for the
// UnknownConfirmed case) the UTXOs drained by the genesis-only shortcut.
type BundleRecord struct {
	Info          BundleInfo
	Knownness     BundleKnownness
	History       []BundleStatusEntry
	DrainedUTXOs  []OutPoint // only populated when Knownness == BundleUnknownConfirmed
}

// DepositEvent and WithdrawalBundleEvent are the two shapes of two-way peg
// event the enforcer's event feed produces.
type DepositEvent struct {
	ParentOutpoint ParentOutPoint
	Output         Output
}

type WithdrawalBundleEvent struct {
	M6ID   M6ID
	Status BundleStatusKind
}

type ParentChainEventKind uint8

const (
	EventDeposit ParentChainEventKind = iota
	EventWithdrawalBundle
)

type ParentChainEvent struct {
	Kind       ParentChainEventKind
	Deposit    DepositEvent
	Withdrawal WithdrawalBundleEvent
}

// ParentBlockEvents groups every event observed in one parent-chain block,
// the unit the two-way peg reconciler processes (§4.5).
type ParentBlockEvents struct {
	ParentBlockHash Hash
	Height          uint32
	Events          []ParentChainEvent
}
