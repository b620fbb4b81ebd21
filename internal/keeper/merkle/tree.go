// Package merkle builds SHA-256 Merkle trees over evidence digests and
// generates membership proofs for individual leaves.
//
// A level with an odd node count pairs the last node with itself, so every
// historical root stays reproducible. Do not change the pairing rule.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ProofSibling is one step of a proof path. IsLeft reports whether the
// sibling hash sits on the left of the current node.
type ProofSibling struct {
	Hash   string `json:"hash"`
	IsLeft bool   `json:"is_left"`
}

// Proof is the minimal sibling path proving one leaf belongs under a root.
type Proof struct {
	LeafHash  string         `json:"leaf_hash"`
	LeafIndex int            `json:"leaf_index"`
	Siblings  []ProofSibling `json:"siblings"`
	Root      string         `json:"root"`
}

// Verify recomputes the root from the leaf hash and sibling path and
// compares it to expectedRoot. A mismatch is false, not an error; an error
// is returned only for malformed hex in the proof itself.
func (p *Proof) Verify(expectedRoot string) (bool, error) {
	current, err := hex.DecodeString(p.LeafHash)
	if err != nil {
		return false, fmt.Errorf("invalid leaf hash hex: %w", err)
	}

	for i, sibling := range p.Siblings {
		sib, err := hex.DecodeString(sibling.Hash)
		if err != nil {
			return false, fmt.Errorf("invalid sibling hex at step %d: %w", i, err)
		}

		h := sha256.New()
		if sibling.IsLeft {
			h.Write(sib)
			h.Write(current)
		} else {
			h.Write(current)
			h.Write(sib)
		}
		current = h.Sum(nil)
	}

	return hex.EncodeToString(current) == expectedRoot, nil
}

// Tree holds every level of a Merkle tree, leaves at level 0.
type Tree struct {
	leaves [][]byte
	levels [][][]byte
}

// NewTree builds a tree from hex-encoded leaf digests. Any invalid hex
// fails the whole build; no partial tree is returned.
func NewTree(leafHexes []string) (*Tree, error) {
	leaves := make([][]byte, len(leafHexes))
	for i, h := range leafHexes {
		raw, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("leaf %d is not valid hex: %w", i, err)
		}
		leaves[i] = raw
	}

	levels := [][][]byte{leaves}
	current := leaves

	for len(current) > 1 {
		next := make([][]byte, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			h := sha256.New()
			h.Write(current[i])
			if i+1 < len(current) {
				h.Write(current[i+1])
			} else {
				// Odd count: the last node pairs with itself.
				h.Write(current[i])
			}
			next = append(next, h.Sum(nil))
		}
		levels = append(levels, next)
		current = next
	}

	return &Tree{leaves: leaves, levels: levels}, nil
}

// Root returns the hex-encoded root, or "" for an empty tree.
func (t *Tree) Root() string {
	top := t.levels[len(t.levels)-1]
	if len(top) == 0 {
		return ""
	}
	return hex.EncodeToString(top[0])
}

// LeafCount returns the number of leaves.
func (t *Tree) LeafCount() int {
	return len(t.leaves)
}

// Proof generates the membership proof for the leaf at index, or nil if the
// index is out of range.
func (t *Tree) Proof(index int) *Proof {
	if index < 0 || index >= len(t.leaves) {
		return nil
	}

	var siblings []ProofSibling
	current := index

	for _, level := range t.levels[:len(t.levels)-1] {
		siblingIndex := current + 1
		if current%2 == 1 {
			siblingIndex = current - 1
		}

		// An odd current index means this node is the right child, so the
		// sibling sits on the left.
		isLeft := current%2 == 1

		if siblingIndex < len(level) {
			siblings = append(siblings, ProofSibling{
				Hash:   hex.EncodeToString(level[siblingIndex]),
				IsLeft: isLeft,
			})
		} else {
			// Odd count: the node was paired with itself.
			siblings = append(siblings, ProofSibling{
				Hash:   hex.EncodeToString(level[current]),
				IsLeft: isLeft,
			})
		}

		current /= 2
	}

	return &Proof{
		LeafHash:  hex.EncodeToString(t.leaves[index]),
		LeafIndex: index,
		Siblings:  siblings,
		Root:      t.Root(),
	}
}
