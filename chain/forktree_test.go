package chain

import (
	"testing"

	"corechain.dev/node/consensus"
	nodecrypto "corechain.dev/node/crypto"
)

func blockWithNonce(prev [32]byte, nonce byte) consensus.Block {
	return consensus.Block{
		Version:        1,
		PrevHash:       prev,
		Timestamp:      1000,
		DifficultyBits: 0x2000ffff,
		Nonce:          []byte{nonce},
	}
}

func TestForkTreeAppendTracksHeightOnlyOnLeafAppend(t *testing.T) {
	p := nodecrypto.StdProvider{}
	tree := NewForkTree(p)

	root := blockWithNonce([32]byte{}, 1)
	rootIdx := tree.NewRoot(root)
	if tree.TreeHeight(rootIdx) != 1 {
		t.Fatalf("expected a fresh root to have tree height 1, got %d", tree.TreeHeight(rootIdx))
	}

	childA := blockWithNonce(root.Hash(p), 2)
	childIdx := tree.AppendBlock(rootIdx, childA)
	if tree.TreeHeight(rootIdx) != 2 {
		t.Fatalf("expected root height to grow to 2 after appending a leaf's first child, got %d", tree.TreeHeight(rootIdx))
	}

	// A second child under the (now non-leaf) root must NOT increment the root's
	// height again, since the root was not a leaf at the time of this append.
	childB := blockWithNonce(root.Hash(p), 3)
	tree.AppendBlock(rootIdx, childB)
	if tree.TreeHeight(rootIdx) != 2 {
		t.Fatalf("expected root height to stay at 2 after a sibling append, got %d", tree.TreeHeight(rootIdx))
	}

	if tree.IsBalanced(rootIdx) {
		// two children, both leaves (height 0) -> balanced
	} else {
		t.Fatalf("expected root with two equal-height leaf children to be balanced")
	}

	grandchild := blockWithNonce(childA.Hash(p), 4)
	tree.AppendBlock(childIdx, grandchild)
	if tree.IsBalanced(rootIdx) {
		t.Fatalf("expected root to become unbalanced once one child's subtree outgrows the other")
	}
}

func TestForkTreeTallestChildAndLeaf(t *testing.T) {
	p := nodecrypto.StdProvider{}
	tree := NewForkTree(p)

	root := blockWithNonce([32]byte{}, 1)
	rootIdx := tree.NewRoot(root)

	shallow := blockWithNonce(root.Hash(p), 2)
	shallowIdx := tree.AppendBlock(rootIdx, shallow)

	deepStart := blockWithNonce(root.Hash(p), 3)
	deepIdx := tree.AppendBlock(rootIdx, deepStart)
	deepLeaf := blockWithNonce(deepStart.Hash(p), 4)
	deepLeafIdx := tree.AppendBlock(deepIdx, deepLeaf)

	tallest, ok := tree.TallestChild(rootIdx)
	if !ok || tallest != deepIdx {
		t.Fatalf("expected the deeper branch (%d) to be the tallest child, got %d", deepIdx, tallest)
	}
	if leaf := tree.TallestLeaf(rootIdx); leaf != deepLeafIdx {
		t.Fatalf("expected the tallest leaf to be %d, got %d", deepLeafIdx, leaf)
	}
	_ = shallowIdx
}

func TestForkTreeLinearCount(t *testing.T) {
	p := nodecrypto.StdProvider{}
	tree := NewForkTree(p)

	root := blockWithNonce([32]byte{}, 1)
	rootIdx := tree.NewRoot(root)
	a := blockWithNonce(root.Hash(p), 2)
	aIdx := tree.AppendBlock(rootIdx, a)
	b := blockWithNonce(a.Hash(p), 3)
	bIdx := tree.AppendBlock(aIdx, b)
	_ = bIdx

	if got := tree.LinearCount(rootIdx); got != 2 {
		t.Fatalf("expected a linear chain of length 2 below the root, got %d", got)
	}

	// Branching at b stops the linear run from extending further.
	c1 := blockWithNonce(b.Hash(p), 4)
	tree.AppendBlock(bIdx, c1)
	c2 := blockWithNonce(b.Hash(p), 5)
	tree.AppendBlock(bIdx, c2)
	if got := tree.LinearCount(rootIdx); got != 2 {
		t.Fatalf("expected the linear run to stop at the branching node, got %d", got)
	}
}

func TestForkTreeRouteToRoot(t *testing.T) {
	p := nodecrypto.StdProvider{}
	tree := NewForkTree(p)

	root := blockWithNonce([32]byte{}, 1)
	rootIdx := tree.NewRoot(root)
	a := blockWithNonce(root.Hash(p), 2)
	aIdx := tree.AppendBlock(rootIdx, a)
	b := blockWithNonce(a.Hash(p), 3)
	bIdx := tree.AppendBlock(aIdx, b)

	route := tree.RouteToRoot(bIdx)
	if len(route) != 3 {
		t.Fatalf("expected a 3-block route root..b, got %d", len(route))
	}
	if route[0].Hash(p) != root.Hash(p) || route[2].Hash(p) != b.Hash(p) {
		t.Fatalf("expected route to start at root and end at the target node")
	}
}

func TestForkTreeRegenerateHeightsIsIdempotent(t *testing.T) {
	p := nodecrypto.StdProvider{}
	tree := NewForkTree(p)

	root := blockWithNonce([32]byte{}, 1)
	rootIdx := tree.NewRoot(root)
	a := blockWithNonce(root.Hash(p), 2)
	aIdx := tree.AppendBlock(rootIdx, a)
	b := blockWithNonce(a.Hash(p), 3)
	tree.AppendBlock(aIdx, b)

	before := tree.TreeHeight(rootIdx)
	tree.RegenerateHeights()
	after := tree.TreeHeight(rootIdx)
	if before != after {
		t.Fatalf("expected regenerating heights to be idempotent: before=%d after=%d", before, after)
	}
	tree.RegenerateHeights()
	if tree.TreeHeight(rootIdx) != after {
		t.Fatalf("expected a second regeneration to leave heights unchanged")
	}
}

func TestForkTreeRegenerateCacheCoversWholeSubtree(t *testing.T) {
	p := nodecrypto.StdProvider{}
	tree := NewForkTree(p)

	root := blockWithNonce([32]byte{}, 1)
	rootIdx := tree.NewRoot(root)
	a := blockWithNonce(root.Hash(p), 2)
	tree.AppendBlock(rootIdx, a)

	if !tree.BlockHashExists(root.Hash(p)) || !tree.BlockHashExists(a.Hash(p)) {
		t.Fatalf("expected both nodes present in the hash cache before regeneration")
	}
	tree.RegenerateCache()
	if !tree.BlockHashExists(root.Hash(p)) || !tree.BlockHashExists(a.Hash(p)) {
		t.Fatalf("expected both nodes present in the hash cache after regeneration")
	}
}

func TestForkTreeForkUTXODeltaCancelsProducedThenConsumed(t *testing.T) {
	p := nodecrypto.StdProvider{}
	tree := NewForkTree(p)

	owner := make([]byte, consensus.PubKeyDERLen)
	owner[0] = 0xAA

	producing := consensus.Transaction{
		Outputs: []consensus.UTXO{{OwnerPK: owner, Amount: 10, Index: 0}},
		Nonce:   []byte{1, 2, 3, 4, 5, 6, 7, 8},
	}
	blockA := blockWithNonce([32]byte{}, 1)
	blockA.Txs = []consensus.Transaction{producing}
	rootIdx := tree.NewRoot(blockA)

	producedTxid := producing.TxID(p)
	spendInput := consensus.UTXO{OwnerPK: owner, Amount: 10, Txid: append([]byte(nil), producedTxid[:]...), Index: 0, UnlockSig: make([]byte, 64)}
	spending := consensus.Transaction{
		Inputs:  []consensus.UTXO{spendInput},
		Outputs: []consensus.UTXO{{OwnerPK: owner, Amount: 10, Index: 0}},
		Nonce:   []byte{8, 7, 6, 5, 4, 3, 2, 1},
	}
	blockB := blockWithNonce(blockA.Hash(p), 2)
	blockB.Txs = []consensus.Transaction{spending}
	childIdx := tree.AppendBlock(rootIdx, blockB)

	consumedFromOutside, producedVisible := tree.ForkUTXODelta(childIdx)
	if len(consumedFromOutside) != 0 {
		t.Fatalf("expected the produce-then-consume pair to cancel out of consumedFromOutside, got %d entries", len(consumedFromOutside))
	}
	if len(producedVisible) != 1 {
		t.Fatalf("expected exactly the final spend's one new output to remain visible, got %d", len(producedVisible))
	}
}

func TestForkTreeRebaseDropsSeveredSiblings(t *testing.T) {
	p := nodecrypto.StdProvider{}
	tree := NewForkTree(p)

	root := blockWithNonce([32]byte{}, 1)
	rootIdx := tree.NewRoot(root)
	survivor := blockWithNonce(root.Hash(p), 2)
	survivorIdx := tree.AppendBlock(rootIdx, survivor)
	discarded := blockWithNonce(root.Hash(p), 3)
	tree.AppendBlock(rootIdx, discarded)

	tree.Rebase(survivorIdx)
	if tree.RootIndex() != 0 {
		t.Fatalf("expected rebase to renumber the surviving node to index 0, got %d", tree.RootIndex())
	}
	if tree.BlockHashExists(discarded.Hash(p)) {
		t.Fatalf("expected the discarded sibling's hash to be gone after rebase")
	}
	if !tree.BlockHashExists(survivor.Hash(p)) {
		t.Fatalf("expected the surviving node's hash to remain after rebase")
	}
}
