package merkle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleLeaves(n int) []string {
	all := []string{
		"6c64b1416425eff8f49ba1a366a30aab224b3b86d1942ed5134bdbd3ecbc129c",
		"17b7e79b4481cb95f2d2575ee71f693d6bcd6eae3b0ed25f30e493d0b0a17a14",
		"c6ba390332571e34b4cdfe575e9644d8a6b8ae56e0c5c0e6a51c88a8b6b0ab0f",
		"0e5751c026e543b2e8ab2eb06099daa1d1e5df47778f7787faab45cdf12fe3a8",
		"9f64a747e1b97f131fabb6b447296c9b6f0201e79fb3c5356e6c77e89b6a806a",
		"ab897fbdedfa502b2d839b6a56100887dccdc507555c282e59589e06300a62e2",
		"2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae",
		"fcde2b2edba56bf408601fb721fe9b5c338d10ee429ea04fae5511b68fbf8fb9",
	}
	return all[:n]
}

func TestTreeDeterminism(t *testing.T) {
	leaves := sampleLeaves(5)

	first, err := NewTree(leaves)
	require.NoError(t, err)
	second, err := NewTree(leaves)
	require.NoError(t, err)

	assert.Equal(t, first.Root(), second.Root())
	assert.Len(t, first.Root(), 64)

	// Leaf order is part of the tree identity
	reversed := []string{leaves[4], leaves[3], leaves[2], leaves[1], leaves[0]}
	other, err := NewTree(reversed)
	require.NoError(t, err)
	assert.NotEqual(t, first.Root(), other.Root())
}

func TestSingleLeafRootIsLeaf(t *testing.T) {
	leaf := sampleLeaves(1)[0]
	tree, err := NewTree([]string{leaf})
	require.NoError(t, err)

	// With one leaf there is nothing to pair: the root is the leaf itself.
	assert.Equal(t, leaf, tree.Root())

	proof := tree.Proof(0)
	require.NotNil(t, proof)
	assert.Empty(t, proof.Siblings)

	ok, err := proof.Verify(tree.Root())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEmptyTree(t *testing.T) {
	tree, err := NewTree(nil)
	require.NoError(t, err)
	assert.Equal(t, "", tree.Root())
	assert.Equal(t, 0, tree.LeafCount())
	assert.Nil(t, tree.Proof(0))
}

func TestProofRoundTrip(t *testing.T) {
	for n := 1; n <= 8; n++ {
		tree, err := NewTree(sampleLeaves(n))
		require.NoError(t, err)

		for i := 0; i < n; i++ {
			proof := tree.Proof(i)
			require.NotNil(t, proof, "n=%d i=%d", n, i)
			assert.Equal(t, i, proof.LeafIndex)

			ok, err := proof.Verify(tree.Root())
			require.NoError(t, err)
			assert.True(t, ok, "proof for leaf %d of %d must verify", i, n)
		}
	}
}

func TestTamperDetection(t *testing.T) {
	tree, err := NewTree(sampleLeaves(4))
	require.NoError(t, err)

	proof := tree.Proof(1)
	require.NotNil(t, proof)
	require.NotEmpty(t, proof.Siblings)

	// Mutate one sibling hash
	tampered := *proof
	tampered.Siblings = append([]ProofSibling(nil), proof.Siblings...)
	h := tampered.Siblings[0].Hash
	tampered.Siblings[0].Hash = flipHexChar(h[:1]) + h[1:]

	ok, err := tampered.Verify(tree.Root())
	require.NoError(t, err)
	assert.False(t, ok)

	// Wrong root
	wrongRoot := flipHexChar(tree.Root()[:1]) + tree.Root()[1:]
	ok, err = proof.Verify(wrongRoot)
	require.NoError(t, err)
	assert.False(t, ok)
}

func flipHexChar(s string) string {
	if s == "0" {
		return "1"
	}
	return "0"
}

func TestOddLeafDuplication(t *testing.T) {
	leaves := sampleLeaves(3)
	tree, err := NewTree(leaves)
	require.NoError(t, err)

	// The third leaf has no pair, so its first proof sibling is itself.
	proof := tree.Proof(2)
	require.NotNil(t, proof)
	require.NotEmpty(t, proof.Siblings)
	assert.Equal(t, leaves[2], proof.Siblings[0].Hash)
	assert.False(t, proof.Siblings[0].IsLeft)

	ok, err := proof.Verify(tree.Root())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInvalidHexLeaf(t *testing.T) {
	_, err := NewTree([]string{"abcd", "not_valid_hex!"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leaf 1")
}

func TestVerifyInvalidHex(t *testing.T) {
	tree, err := NewTree(sampleLeaves(2))
	require.NoError(t, err)

	proof := tree.Proof(0)
	require.NotNil(t, proof)

	bad := *proof
	bad.Siblings = []ProofSibling{{Hash: "zzzz", IsLeft: false}}
	_, err = bad.Verify(tree.Root())
	require.Error(t, err)

	bad = *proof
	bad.LeafHash = "not hex"
	_, err = bad.Verify(tree.Root())
	require.Error(t, err)
}
