package mls

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWelcomeEncryptDecryptRoundTrip(t *testing.T) {
	forEachSuite(t, func(t *testing.T, suite CipherSuite) {
		tree, _ := buildTestTree(t, suite, 2)
		roster := newRoster()
		roster.add(0, tree.GetCredential(0))
		roster.add(1, tree.GetCredential(1))

		info := WelcomeInfo{
			Version:        ProtocolVersionMLS10,
			GroupID:        []byte("group-1"),
			Epoch:          3,
			Roster:         *roster,
			Tree:           *tree,
			TranscriptHash: []byte{0x01, 0x02},
			InitSecret:     randomBytes(t, 32),
		}

		joinerPriv, err := generateDH(suite)
		require.NoError(t, err)

		w, err := NewWelcome([]byte("uik-joiner"), suite, joinerPriv.PublicKey(), info)
		require.NoError(t, err)
		require.Equal(t, suite, w.CipherSuite)

		got, err := w.Decrypt(joinerPriv)
		require.NoError(t, err)
		require.Equal(t, info.Epoch, got.Epoch)
		require.Equal(t, info.GroupID, got.GroupID)
		require.Equal(t, info.InitSecret, got.InitSecret)
		require.True(t, info.Roster.Equals(got.Roster))

		other, err := generateDH(suite)
		require.NoError(t, err)
		_, err = w.Decrypt(other)
		require.Error(t, err)
	})
}

func TestWelcomeInfoHashStable(t *testing.T) {
	suite := X25519_SHA256_AES128GCM
	tree, _ := buildTestTree(t, suite, 1)
	roster := newRoster()
	roster.add(0, tree.GetCredential(0))

	info := WelcomeInfo{
		Version:        ProtocolVersionMLS10,
		GroupID:        []byte("group-2"),
		Epoch:          0,
		Roster:         *roster,
		Tree:           *tree,
		TranscriptHash: []byte{},
		InitSecret:     randomBytes(t, 32),
	}

	h1, err := info.hash(suite)
	require.NoError(t, err)
	h2, err := info.hash(suite)
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	info.Epoch++
	h3, err := info.hash(suite)
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}
