package core

import "testing"

func leafN(b byte) Hash {
	var h Hash
	h[0] = b
	return h
}

func TestAccumulatorProveVerifyRoundTrip(t *testing.T) {
	acc := Accumulator{Leaves: []Hash{leafN(1), leafN(2), leafN(3), leafN(4), leafN(5)}}

	proof, err := acc.Prove([]Hash{leafN(3), leafN(5)})
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	if !acc.Verify(proof, []Hash{leafN(3), leafN(5)}) {
		t.Fatalf("verify failed against own accumulator")
	}

	// The same proof must not verify for a leaf it was not built for.
	if acc.Verify(proof, []Hash{leafN(3), leafN(9)}) {
		t.Fatalf("verify should not accept a leaf that was not proven")
	}
}

func TestAccumulatorProveMissingLeaf(t *testing.T) {
	acc := Accumulator{Leaves: []Hash{leafN(1), leafN(2)}}
	if _, err := acc.Prove([]Hash{leafN(9)}); err == nil {
		t.Fatalf("expected an error proving a leaf that is not in the forest")
	}
}

func TestAccumulatorApplyDiffInsertRemove(t *testing.T) {
	acc := Accumulator{Leaves: []Hash{leafN(1), leafN(2)}}

	diff := AccumulatorDiff{InsertHashes: []Hash{leafN(3), leafN(4)}, RemoveHashes: []Hash{leafN(1)}}
	next, err := acc.ApplyDiff(diff)
	if err != nil {
		t.Fatalf("apply_diff: %v", err)
	}
	if len(next.Leaves) != 3 {
		t.Fatalf("expected 3 leaves after insert 2 / remove 1, got %d", len(next.Leaves))
	}
	if _, ok := next.indexOf(leafN(1)); ok {
		t.Fatalf("removed leaf 1 still present")
	}

	// Applying the inverse diff restores the original forest exactly.
	restored, err := next.ApplyDiff(diff.InverseDiff())
	if err != nil {
		t.Fatalf("apply inverse diff: %v", err)
	}
	if len(restored.Leaves) != len(acc.Leaves) {
		t.Fatalf("restored leaf count = %d, want %d", len(restored.Leaves), len(acc.Leaves))
	}
	wantRoots := acc.Roots()
	gotRoots := restored.Roots()
	if len(wantRoots) != len(gotRoots) {
		t.Fatalf("restored root count = %d, want %d", len(gotRoots), len(wantRoots))
	}
	for i := range wantRoots {
		if wantRoots[i] != gotRoots[i] {
			t.Fatalf("restored root %d mismatch", i)
		}
	}
}

func TestAccumulatorApplyDiffMissingRemoveTarget(t *testing.T) {
	acc := Accumulator{Leaves: []Hash{leafN(1)}}
	_, err := acc.ApplyDiff(AccumulatorDiff{RemoveHashes: []Hash{leafN(9)}})
	if err == nil {
		t.Fatalf("expected an error removing a leaf hash that is not in the forest")
	}
}
