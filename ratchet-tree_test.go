package mls

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTestTree(t *testing.T, suite CipherSuite, n int) (*RatchetTree, []DHPrivateKey) {
	tree := newRatchetTree(suite)
	leafPrivs := make([]DHPrivateKey, n)

	for i := 0; i < n; i++ {
		_, cred := newTestIdentity(t, suite, "member")
		seed := randomBytes(t, 32)
		priv, err := deriveDH(suite, seed)
		require.NoError(t, err)
		leafPrivs[i] = priv

		require.NoError(t, tree.AddLeaf(leafIndex(i), priv.PublicKey(), cred))
		tree.setPrivate(toNodeIndex(leafIndex(i)), priv)
	}

	return tree, leafPrivs
}

func TestRatchetTreeAddLeafGrowsAndHashes(t *testing.T) {
	forEachSuite(t, func(t *testing.T, suite CipherSuite) {
		tree, _ := buildTestTree(t, suite, 4)
		require.Equal(t, leafCount(4), tree.size())
		require.NotEmpty(t, tree.RootHash())
		for i := leafIndex(0); i < 4; i++ {
			require.True(t, tree.occupied(i))
		}
	})
}

func TestRatchetTreeEncapDecapAgree(t *testing.T) {
	forEachSuite(t, func(t *testing.T, suite CipherSuite) {
		groupSize := 5
		base, _ := buildTestTree(t, suite, groupSize)
		trees := make([]*RatchetTree, groupSize)
		for i := range trees {
			trees[i] = base.clone()
			for j := 0; j < groupSize; j++ {
				if j != i {
					trees[i].Secrets.zeroizeAndDelete(toNodeIndex(leafIndex(j)))
				}
			}
		}

		for i := range trees {
			leafSecret := randomBytes(t, 32)
			path, rootSecretE, err := trees[i].Encap(leafIndex(i), leafSecret)
			require.NoError(t, err)

			for j := range trees {
				if i == j {
					continue
				}
				rootSecretD, err := trees[j].Decap(leafIndex(i), path)
				require.NoError(t, err)
				require.Equal(t, rootSecretE, rootSecretD)
			}
		}
	})
}

func TestRatchetTreeBlankPathClearsPrivateKeys(t *testing.T) {
	forEachSuite(t, func(t *testing.T, suite CipherSuite) {
		tree, _ := buildTestTree(t, suite, 4)
		require.True(t, tree.hasPrivate(toNodeIndex(1)))

		require.NoError(t, tree.BlankPath(1, true))
		require.False(t, tree.occupied(1))
		require.False(t, tree.hasPrivate(toNodeIndex(1)))
	})
}

func TestRatchetTreeResolveUnmergedLeaves(t *testing.T) {
	suite := X25519_SHA256_AES128GCM
	tree, _ := buildTestTree(t, suite, 3)

	_, _, err := tree.Encap(0, randomBytes(t, 32))
	require.NoError(t, err)

	_, cred := newTestIdentity(t, suite, "late-joiner")
	newPriv, err := deriveDH(suite, randomBytes(t, 32))
	require.NoError(t, err)
	require.NoError(t, tree.AddLeaf(3, newPriv.PublicKey(), cred))

	root := tree.rootIndex()
	res := tree.resolve(root)
	require.Len(t, res, 2)
	require.Contains(t, res, root)
	require.Contains(t, res, toNodeIndex(3))
}

func TestRatchetTreeLeftmostFree(t *testing.T) {
	suite := X25519_SHA256_AES128GCM
	tree, _ := buildTestTree(t, suite, 3)
	require.Equal(t, leafIndex(3), tree.LeftmostFree())

	require.NoError(t, tree.BlankPath(1, true))
	require.Equal(t, leafIndex(1), tree.LeftmostFree())
}

func TestRatchetTreeCloneIndependence(t *testing.T) {
	suite := X25519_SHA256_AES128GCM
	tree, _ := buildTestTree(t, suite, 3)
	clone := tree.clone()

	require.NoError(t, clone.BlankPath(0, true))
	require.True(t, tree.occupied(0))
	require.False(t, clone.occupied(0))
}
