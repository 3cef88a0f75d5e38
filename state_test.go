package mls

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func twoPartyGroup(t *testing.T, suite CipherSuite) (*GroupState, *GroupState) {
	creatorSigPriv, creatorCred := newTestIdentity(t, suite, "creator")
	creatorLeafSecret := randomBytes(t, 32)

	creator, err := CreateGroup([]byte("group-1"), suite, creatorLeafSecret, creatorSigPriv, creatorCred)
	require.NoError(t, err)

	joinerSigPriv, joinerCred := newTestIdentity(t, suite, "joiner")
	joinerInitPriv, err := generateDH(suite)
	require.NoError(t, err)
	uik, err := NewUserInitKey([]byte("uik-joiner"), suite, joinerInitPriv.PublicKey(), joinerCred, joinerSigPriv)
	require.NoError(t, err)

	handshake, welcome, err := creator.AddMember(*uik, joinerInitPriv.PublicKey())
	require.NoError(t, err)
	require.Equal(t, uint32(1), creator.Epoch)

	joiner, err := JoinFromWelcome(welcome, 1, joinerInitPriv, joinerSigPriv)
	require.NoError(t, err)

	err = joiner.Apply(handshake)
	require.NoError(t, err)

	require.True(t, creator.Equals(*joiner))
	return creator, joiner
}

func TestCreateGroupSingleMember(t *testing.T) {
	forEachSuite(t, func(t *testing.T, suite CipherSuite) {
		sigPriv, cred := newTestIdentity(t, suite, "alice")
		s, err := CreateGroup([]byte("group-0"), suite, randomBytes(t, 32), sigPriv, cred)
		require.NoError(t, err)
		require.Equal(t, uint32(0), s.Epoch)
		require.Equal(t, leafIndex(0), s.Index)
		require.NotNil(t, s.Keys)
	})
}

func TestAddMemberAndJoinFromWelcome(t *testing.T) {
	forEachSuite(t, func(t *testing.T, suite CipherSuite) {
		twoPartyGroup(t, suite)
	})
}

func TestUpdateAppliesOnBothSides(t *testing.T) {
	forEachSuite(t, func(t *testing.T, suite CipherSuite) {
		creator, joiner := twoPartyGroup(t, suite)

		handshake, err := creator.Update(randomBytes(t, 32))
		require.NoError(t, err)
		require.Equal(t, uint32(2), creator.Epoch)

		require.NoError(t, joiner.Apply(handshake))
		require.True(t, creator.Equals(*joiner))
	})
}

func TestRemoveMemberAppliesOnBothSides(t *testing.T) {
	suite := X25519_SHA256_AES128GCM
	creator, member1 := twoPartyGroup(t, suite)

	sigPriv2, cred2 := newTestIdentity(t, suite, "third")
	initPriv2, err := generateDH(suite)
	require.NoError(t, err)
	uik2, err := NewUserInitKey([]byte("uik-third"), suite, initPriv2.PublicKey(), cred2, sigPriv2)
	require.NoError(t, err)

	addHandshake, welcome, err := creator.AddMember(*uik2, initPriv2.PublicKey())
	require.NoError(t, err)
	require.NoError(t, member1.Apply(addHandshake))
	member2, err := JoinFromWelcome(welcome, 2, initPriv2, sigPriv2)
	require.NoError(t, err)
	require.True(t, creator.Equals(*member2))

	removeHandshake, err := creator.RemoveMember(1, randomBytes(t, 32))
	require.NoError(t, err)
	require.Equal(t, uint32(3), creator.Epoch)

	require.NoError(t, member2.Apply(removeHandshake))
	require.True(t, creator.Equals(*member2))
}

func TestRemoveMemberRejectsSelfRemoval(t *testing.T) {
	suite := P256_SHA256_AES128GCM
	creator, _ := twoPartyGroup(t, suite)
	_, err := creator.RemoveMember(creator.Index, randomBytes(t, 32))
	require.Error(t, err)
}

func TestApplyRejectsStaleEpoch(t *testing.T) {
	suite := X25519_SHA256_AES128GCM
	creator, joiner := twoPartyGroup(t, suite)

	handshake, err := creator.Update(randomBytes(t, 32))
	require.NoError(t, err)
	require.NoError(t, joiner.Apply(handshake))

	err = joiner.Apply(handshake)
	require.Error(t, err)
}

func TestApplyRejectsUnknownSigner(t *testing.T) {
	suite := P256_SHA256_AES128GCM
	creator, joiner := twoPartyGroup(t, suite)

	handshake, err := creator.Update(randomBytes(t, 32))
	require.NoError(t, err)

	handshake.SignerIndex = 9
	err = joiner.Apply(handshake)
	require.Error(t, err)
}

func TestApplyRejectsBadConfirmation(t *testing.T) {
	suite := X25519_SHA256_AES128GCM
	creator, joiner := twoPartyGroup(t, suite)

	handshake, err := creator.Update(randomBytes(t, 32))
	require.NoError(t, err)

	handshake.Confirmation[0] ^= 0xFF
	err = joiner.Apply(handshake)
	require.Error(t, err)
}

func TestThreeMemberLifecycle(t *testing.T) {
	suite := P256_SHA256_AES128GCM
	creator, member1 := twoPartyGroup(t, suite)

	sigPriv2, cred2 := newTestIdentity(t, suite, "third")
	initPriv2, err := generateDH(suite)
	require.NoError(t, err)
	uik2, err := NewUserInitKey([]byte("uik-third"), suite, initPriv2.PublicKey(), cred2, sigPriv2)
	require.NoError(t, err)

	handshake, welcome, err := creator.AddMember(*uik2, initPriv2.PublicKey())
	require.NoError(t, err)
	require.NoError(t, member1.Apply(handshake))

	member2, err := JoinFromWelcome(welcome, 2, initPriv2, sigPriv2)
	require.NoError(t, err)

	require.True(t, creator.Equals(*member1))
	require.True(t, creator.Equals(*member2))

	updateHandshake, err := member1.Update(randomBytes(t, 32))
	require.NoError(t, err)
	require.NoError(t, creator.Apply(updateHandshake))
	require.NoError(t, member2.Apply(updateHandshake))

	require.True(t, creator.Equals(*member1))
	require.True(t, creator.Equals(*member2))
}
