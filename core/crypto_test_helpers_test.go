package core

import (
	"crypto/ed25519"
	"testing"
)

// testKeypair is a throwaway ed25519 identity used across the core test
// suite to build inputs an output's witness actually verifies against.
type testKeypair struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
	addr Address
}

func newTestKeypair(t *testing.T, seedByte byte) testKeypair {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = seedByte
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return testKeypair{pub: pub, priv: priv, addr: AddressFromPubKey(pub)}
}

// signTx fills tx.Witnesses, one per input, each signing the transaction's
// signing payload (witnesses stripped) with the corresponding key.
func signTx(t *testing.T, tx Transaction, signers ...testKeypair) Transaction {
	t.Helper()
	if len(signers) != len(tx.Inputs) {
		t.Fatalf("signTx: %d signers for %d inputs", len(signers), len(tx.Inputs))
	}
	tx.Witnesses = nil
	payload, err := SigningPayload(tx)
	if err != nil {
		t.Fatalf("signing payload: %v", err)
	}
	witnesses := make([]InputWitness, len(signers))
	for i, k := range signers {
		witnesses[i] = InputWitness{PubKey: k.pub, Signature: SignTxInput(k.priv, payload)}
	}
	tx.Witnesses = witnesses
	return tx
}

func openTestEnv(t *testing.T) *Environment {
	t.Helper()
	env, err := OpenEnvironment(StoreConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("open environment: %v", err)
	}
	t.Cleanup(func() { _ = env.Close() })
	return env
}
