// Package core - shared security primitives for the sidechain node.
//
// Trimmed from the teacher's original multi-algorithm security module down
// to what state.go's validate_transaction actually needs: Ed25519 signing
// and address derivation. The teacher's BLS aggregation, Dilithium
// post-quantum signing, XChaCha20 encryption, TLS loaders, audit trail,
// anomaly detector, and double-SHA256 Merkle root (block validation uses
// merkle_tree_operations.go's single-SHA256, order-preserving tree instead)
// are dropped — see DESIGN.md for the per-feature justification.
package core

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
)

// AddressFromPubKey derives an Address the same way a UTXO owner is
// recorded: the low 20 bytes of SHA-256(pubkey).
func AddressFromPubKey(pubKey []byte) Address {
	sum := sha256.Sum256(pubKey)
	var a Address
	copy(a[:], sum[len(sum)-20:])
	return a
}

// SignTxInput signs payload (the transaction's signing payload, built by
// state.go) with an Ed25519 private key.
func SignTxInput(priv ed25519.PrivateKey, payload []byte) []byte {
	return ed25519.Sign(priv, payload)
}

// VerifyTxInputWitness checks that witness authorizes payload against owner:
// the witness's public key must hash to owner, and the signature must
// verify under that key.
func VerifyTxInputWitness(owner Address, payload []byte, witness InputWitness) error {
	if len(witness.PubKey) != ed25519.PublicKeySize {
		return errors.New("core: security: witness public key has the wrong size")
	}
	if AddressFromPubKey(witness.PubKey) != owner {
		return ErrWrongOwner
	}
	if !ed25519.Verify(ed25519.PublicKey(witness.PubKey), payload, witness.Signature) {
		return ErrSignatureInvalid
	}
	return nil
}
