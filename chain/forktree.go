package chain

import (
	"corechain.dev/node/consensus"
	nodecrypto "corechain.dev/node/crypto"
)

// ForkNode is one block in the unconfirmed suffix of the chain (§4.7). Consumed and
// Produced are precomputed at append time: every input spent by the node's block, and
// every output it creates with its producing txid already stamped in.
type ForkNode struct {
	Block     consensus.Block
	ParentIdx int // -1 at the root
	Children  []int
	Height    int // 0 for a leaf; 1 + max(child Height) otherwise

	Consumed []consensus.UTXO
	Produced []consensus.UTXO
}

// ForkTree is the in-memory tree of unconfirmed blocks, implemented as an arena (a
// slice of nodes addressed by integer index) rather than owning child->parent GC
// references — the reference's in-source pattern uses language-GC cycles, which a
// systems rewrite does not need (§9 "Cyclic/parent references in the fork tree").
type ForkTree struct {
	nodes     []ForkNode
	rootIdx   int // -1 when empty
	hashCache map[[32]byte]int

	p nodecrypto.Provider
}

// NewForkTree constructs an empty fork tree.
func NewForkTree(p nodecrypto.Provider) *ForkTree {
	return &ForkTree{rootIdx: -1, hashCache: make(map[[32]byte]int), p: p}
}

// IsEmpty reports whether the tree currently holds no nodes.
func (t *ForkTree) IsEmpty() bool {
	return t.rootIdx < 0
}

// RootIndex returns the arena index of the current root, or -1 if empty.
func (t *ForkTree) RootIndex() int {
	return t.rootIdx
}

// Node returns the node at idx.
func (t *ForkTree) Node(idx int) *ForkNode {
	return &t.nodes[idx]
}

// BlockHashExists reports whether hash belongs to any node in the tree (§4.7,
// root-owned hash cache).
func (t *ForkTree) BlockHashExists(hash [32]byte) bool {
	_, ok := t.hashCache[hash]
	return ok
}

// NodeIndexByHash resolves hash to its arena index via the root's hash cache.
func (t *ForkTree) NodeIndexByHash(hash [32]byte) (int, bool) {
	idx, ok := t.hashCache[hash]
	return idx, ok
}

func computeConsumedProduced(b consensus.Block, p nodecrypto.Provider) (consumed, produced []consensus.UTXO) {
	for i := range b.Txs {
		tx := &b.Txs[i]
		consumed = append(consumed, tx.Inputs...)
		txid := tx.TxID(p)
		for _, out := range tx.Outputs {
			stamped := out
			stamped.Txid = append([]byte(nil), txid[:]...)
			produced = append(produced, stamped)
		}
	}
	return consumed, produced
}

// NewRoot resets the tree and makes b its root (§4.7: "A new node is attached... if
// the tree was empty, create a new root").
func (t *ForkTree) NewRoot(b consensus.Block) int {
	consumed, produced := computeConsumedProduced(b, t.p)
	t.nodes = []ForkNode{{Block: b, ParentIdx: -1, Height: 0, Consumed: consumed, Produced: produced}}
	t.rootIdx = 0
	h := b.Hash(t.p)
	t.hashCache = map[[32]byte]int{h: 0}
	return 0
}

// AppendBlock attaches b as a new leaf under parentIdx. Heights change only if the
// parent was previously a leaf: the parent's height is incremented, and each ancestor
// above it is raised to 1 + its child's new height, stopping at the first ancestor
// that is already taller (§4.7).
func (t *ForkTree) AppendBlock(parentIdx int, b consensus.Block) int {
	wasLeaf := len(t.nodes[parentIdx].Children) == 0
	consumed, produced := computeConsumedProduced(b, t.p)

	newIdx := len(t.nodes)
	t.nodes = append(t.nodes, ForkNode{Block: b, ParentIdx: parentIdx, Height: 0, Consumed: consumed, Produced: produced})
	t.nodes[parentIdx].Children = append(t.nodes[parentIdx].Children, newIdx)

	if wasLeaf {
		t.nodes[parentIdx].Height++
		for child, cur := parentIdx, t.nodes[parentIdx].ParentIdx; cur != -1; child, cur = cur, t.nodes[cur].ParentIdx {
			if t.nodes[cur].Height > t.nodes[child].Height {
				break
			}
			t.nodes[cur].Height = t.nodes[child].Height + 1
		}
	}

	h := b.Hash(t.p)
	t.hashCache[h] = newIdx
	return newIdx
}

// TreeHeight is 1 + the node's cached Height (a leaf's cached Height is 0, so its
// tree height is 1) — the height of the subtree rooted at idx (§4.7).
func (t *ForkTree) TreeHeight(idx int) int {
	return t.nodes[idx].Height + 1
}

// TallestChild returns the child of idx with the greatest subtree height, the last
// child winning ties (matching the reference's `>=` comparison).
func (t *ForkTree) TallestChild(idx int) (int, bool) {
	children := t.nodes[idx].Children
	if len(children) == 0 {
		return -1, false
	}
	best, bestSize := -1, -1
	for _, c := range children {
		size := t.TreeHeight(c)
		if size >= bestSize {
			best, bestSize = c, size
		}
	}
	return best, true
}

// TallestLeaf descends from idx always choosing the tallest child, the first child
// winning ties, until it reaches a leaf (§4.7).
func (t *ForkTree) TallestLeaf(idx int) int {
	cur := idx
	for len(t.nodes[cur].Children) > 0 {
		children := t.nodes[cur].Children
		best := children[0]
		for _, c := range children[1:] {
			if t.nodes[c].Height > t.nodes[best].Height {
				best = c
			}
		}
		cur = best
	}
	return cur
}

// IsBalanced reports whether idx has >= 2 children all of equal subtree height; a
// one-child node is unbalanced, and a leaf is balanced (§4.7).
func (t *ForkTree) IsBalanced(idx int) bool {
	children := t.nodes[idx].Children
	switch len(children) {
	case 0:
		return true
	case 1:
		return false
	}
	h0 := t.TreeHeight(children[0])
	for _, c := range children[1:] {
		if t.TreeHeight(c) != h0 {
			return false
		}
	}
	return true
}

// LinearCount is the longest prefix of nodes with exactly one child, starting at idx
// (§4.7).
func (t *ForkTree) LinearCount(idx int) int {
	cur := idx
	count := 0
	for len(t.nodes[cur].Children) == 1 {
		count++
		cur = t.nodes[cur].Children[0]
	}
	return count
}

// RouteToRoot returns the list of blocks from the root down to idx (§4.7).
func (t *ForkTree) RouteToRoot(idx int) []consensus.Block {
	var blocks []consensus.Block
	for cur := idx; cur != -1; cur = t.nodes[cur].ParentIdx {
		blocks = append(blocks, t.nodes[cur].Block)
	}
	for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
		blocks[i], blocks[j] = blocks[j], blocks[i]
	}
	return blocks
}

// ForkUTXODelta walks from idx up to the root, accumulating every input spent and
// every output produced along that branch. An output produced and later consumed on
// the same branch cancels both entries out — it never needs to surface as either
// "externally consumed" or "newly visible" (§4.7).
//
// Cancellation matches produced/consumed entries by Outpoint (txid, index) rather than
// by full structural equality of the UTXO value: the reference's Python cancellation
// test (`added in result_used`) compares every dataclass field including the unlock
// signature, which a freshly produced output never carries, so it would never actually
// fire. This repo follows spec.md's stated intent ("both entries cancel") over the
// apparent literal behavior of the original — see DESIGN.md.
func (t *ForkTree) ForkUTXODelta(idx int) (consumedFromOutside []consensus.UTXO, producedVisible []consensus.UTXO) {
	consumedSet := make(map[consensus.Outpoint]consensus.UTXO)
	var consumedOrder []consensus.Outpoint
	seenOrder := make(map[consensus.Outpoint]bool)

	for cur := idx; cur != -1; cur = t.nodes[cur].ParentIdx {
		node := &t.nodes[cur]
		for _, u := range node.Consumed {
			op := consensus.OutpointOf(u)
			consumedSet[op] = u
			if !seenOrder[op] {
				seenOrder[op] = true
				consumedOrder = append(consumedOrder, op)
			}
		}
		for _, u := range node.Produced {
			op := consensus.OutpointOf(u)
			if _, ok := consumedSet[op]; ok {
				delete(consumedSet, op)
				continue
			}
			producedVisible = append(producedVisible, u)
		}
	}

	for _, op := range consumedOrder {
		if u, ok := consumedSet[op]; ok {
			consumedFromOutside = append(consumedFromOutside, u)
		}
	}
	return consumedFromOutside, producedVisible
}

// RegenerateHeights recomputes every node's cached Height from scratch, bottom-up
// (§4.7, invariant 8: "regenerating heights is idempotent").
func (t *ForkTree) RegenerateHeights() {
	if t.IsEmpty() {
		return
	}
	t.regenerateHeights(t.rootIdx)
}

func (t *ForkTree) regenerateHeights(idx int) int {
	children := t.nodes[idx].Children
	if len(children) == 0 {
		t.nodes[idx].Height = 0
		return 0
	}
	max := -1
	for _, c := range children {
		if h := t.regenerateHeights(c); h > max {
			max = h
		}
	}
	t.nodes[idx].Height = max + 1
	return t.nodes[idx].Height
}

// RegenerateCache rebuilds the root's hash cache from scratch, covering every node in
// the subtree (§4.7, invariant 7).
func (t *ForkTree) RegenerateCache() {
	cache := make(map[[32]byte]int)
	if !t.IsEmpty() {
		t.walkCache(t.rootIdx, cache)
	}
	t.hashCache = cache
}

func (t *ForkTree) walkCache(idx int, cache map[[32]byte]int) {
	cache[t.nodes[idx].Block.Hash(t.p)] = idx
	for _, c := range t.nodes[idx].Children {
		t.walkCache(c, cache)
	}
}

// Rebase discards every node outside the subtree rooted at newRootIdx, renumbering the
// arena and recomputing heights and the hash cache from scratch — the "rebuild from
// scratch" root-replacement strategy spec.md §9 recommends, since the surviving tree
// is always small (bounded by the reorg buffer, §4.8 "Merge protocol").
func (t *ForkTree) Rebase(newRootIdx int) {
	oldToNew := make(map[int]int)
	var order []int
	var walk func(i int)
	walk = func(i int) {
		oldToNew[i] = len(order)
		order = append(order, i)
		for _, c := range t.nodes[i].Children {
			walk(c)
		}
	}
	walk(newRootIdx)

	newNodes := make([]ForkNode, len(order))
	for newIdx, oldIdx := range order {
		n := t.nodes[oldIdx]
		newChildren := make([]int, len(n.Children))
		for k, c := range n.Children {
			newChildren[k] = oldToNew[c]
		}
		newParent := -1
		if oldIdx != newRootIdx {
			newParent = oldToNew[n.ParentIdx]
		}
		newNodes[newIdx] = ForkNode{
			Block:     n.Block,
			ParentIdx: newParent,
			Children:  newChildren,
			Height:    n.Height,
			Consumed:  n.Consumed,
			Produced:  n.Produced,
		}
	}
	t.nodes = newNodes
	t.rootIdx = 0
	t.RegenerateHeights()
	t.RegenerateCache()
}

// Reset discards the entire tree (used by merge_all, §4.8).
func (t *ForkTree) Reset() {
	t.nodes = nil
	t.rootIdx = -1
	t.hashCache = make(map[[32]byte]int)
}
