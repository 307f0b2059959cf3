package core

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"
)

// EncodeRLP and DecodeRLP are the deterministic binary codec every store.go
// bucket value and swap/bundle record round-trips through: go-ethereum's rlp
// package (how the teacher's core/ledger.go persists its own block records
// via DecodeBlockRLP). RLP is canonical and length-prefixed, but it writes
// integers big-endian in their minimal byte length; it has no fixed-width or
// little-endian integer fields.
func EncodeRLP(v interface{}) ([]byte, error) {
	return rlp.EncodeToBytes(v)
}

func DecodeRLP(data []byte, out interface{}) error {
	return rlp.DecodeBytes(data, out)
}

// BlakeHash is the BLAKE3 leaf/identifier hash used by the accumulator and
// the swap engine. crypto/sha256 remains reserved for merkle roots and block
// hashes (types.go's HashBytes), matching core/sidechains.go's split between
// a fast leaf hash and a header hash.
func BlakeHash(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

// LeafHash is the accumulator's leaf hash for a UTXO: BLAKE3 over the RLP
// encoding of the (OutPoint, Output) pair, i.e. the "PointedOutput".
func LeafHash(op OutPoint, out Output) (Hash, error) {
	enc, err := rlp.EncodeToBytes(struct {
		OutPoint OutPoint
		Output   Output
	}{op, out})
	if err != nil {
		return Hash{}, err
	}
	return BlakeHash(enc), nil
}

// ComputeSwapID derives SwapId = BLAKE3(l1_recipient_address || l1_amount_le
// || l2_sender_address || l2_recipient_or_zero).
func ComputeSwapID(l1RecipientAddress string, l1Amount uint64, l2Sender Address, l2Recipient Address) Hash {
	buf := make([]byte, 0, len(l1RecipientAddress)+8+20+20)
	buf = append(buf, []byte(l1RecipientAddress)...)
	var amt [8]byte
	binary.LittleEndian.PutUint64(amt[:], l1Amount)
	buf = append(buf, amt[:]...)
	buf = append(buf, l2Sender[:]...)
	buf = append(buf, l2Recipient[:]...)
	return BlakeHash(buf)
}
