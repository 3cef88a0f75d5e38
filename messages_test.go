package mls

import (
	"testing"

	syntax "github.com/cisco/go-tls-syntax"
	"github.com/stretchr/testify/require"
)

func TestUserInitKeySignVerify(t *testing.T) {
	forEachSuite(t, func(t *testing.T, suite CipherSuite) {
		sigPriv, cred := newTestIdentity(t, suite, "bob")
		initPriv, err := generateDH(suite)
		require.NoError(t, err)

		uik, err := NewUserInitKey([]byte("uik-1"), suite, initPriv.PublicKey(), cred, sigPriv)
		require.NoError(t, err)
		require.True(t, uik.Verify())

		pub, ok := uik.FindInitKey(suite)
		require.True(t, ok)
		require.True(t, pub.Equals(initPriv.PublicKey()))

		_, ok = uik.FindInitKey(suite + 1)
		require.False(t, ok)

		uik.ID[0] ^= 0xFF
		require.False(t, uik.Verify())
	})
}

func TestGroupOperationMarshalUnmarshal(t *testing.T) {
	suite := X25519_SHA256_AES128GCM
	sigPriv, cred := newTestIdentity(t, suite, "dave")
	initPriv, err := generateDH(suite)
	require.NoError(t, err)
	uik, err := NewUserInitKey([]byte("uik-2"), suite, initPriv.PublicKey(), cred, sigPriv)
	require.NoError(t, err)

	add := GroupOperation{Add: &Add{Index: 3, InitKey: *uik, WelcomeInfoHash: []byte{1, 2, 3}}}
	enc, err := add.MarshalTLS()
	require.NoError(t, err)

	var out GroupOperation
	read, err := out.UnmarshalTLS(enc)
	require.NoError(t, err)
	require.Equal(t, len(enc), read)
	require.Equal(t, GroupOperationAdd, out.Type())
	require.Equal(t, uint32(3), out.Add.Index)
}

func TestHandshakeSignVerify(t *testing.T) {
	forEachSuite(t, func(t *testing.T, suite CipherSuite) {
		sigPriv, _ := newTestIdentity(t, suite, "carol")

		h := &Handshake{
			PriorEpoch:  4,
			Operation:   GroupOperation{Remove: &RemoveOperation{Removed: 2}},
			SignerIndex: 0,
		}
		require.NoError(t, h.sign(sigPriv))

		ok, err := h.verifySignature(sigPriv.PublicKey())
		require.NoError(t, err)
		require.True(t, ok)

		h.PriorEpoch = 5
		ok, err = h.verifySignature(sigPriv.PublicKey())
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestHandshakeMarshalRoundTrip(t *testing.T) {
	h := Handshake{
		PriorEpoch:   1,
		Operation:    GroupOperation{Update: &UpdateOperation{}},
		SignerIndex:  2,
		Signature:    []byte{0xAA},
		Confirmation: []byte{0xBB},
	}

	enc, err := syntax.Marshal(h)
	require.NoError(t, err)

	var out Handshake
	_, err = syntax.Unmarshal(enc, &out)
	require.NoError(t, err)
	require.Equal(t, h.PriorEpoch, out.PriorEpoch)
	require.Equal(t, h.SignerIndex, out.SignerIndex)
	require.Equal(t, GroupOperationUpdate, out.Operation.Type())
}
