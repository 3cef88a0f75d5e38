package mls

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyScheduleDerivesDistinctSecrets(t *testing.T) {
	forEachSuite(t, func(t *testing.T, suite CipherSuite) {
		epochSecret := randomBytes(t, secretSize)
		context := []byte("group-context")

		kse, err := newKeyScheduleEpoch(suite, epochSecret, context)
		require.NoError(t, err)

		secrets := [][]byte{
			kse.ApplicationSecret,
			kse.HandshakeSecret,
			kse.SenderDataSecret,
			kse.ConfirmationKey,
			kse.InitSecret,
		}
		for _, s := range secrets {
			require.Len(t, s, secretSize)
		}
		for i := range secrets {
			for j := range secrets {
				if i == j {
					continue
				}
				require.NotEqual(t, secrets[i], secrets[j])
			}
		}
	})
}

func TestKeyScheduleDeterministic(t *testing.T) {
	suite := P256_SHA256_AES128GCM
	epochSecret := randomBytes(t, secretSize)
	context := []byte("ctx")

	a, err := newKeyScheduleEpoch(suite, epochSecret, context)
	require.NoError(t, err)
	b, err := newKeyScheduleEpoch(suite, epochSecret, context)
	require.NoError(t, err)

	require.Equal(t, a.ApplicationSecret, b.ApplicationSecret)
	require.Equal(t, a.InitSecret, b.InitSecret)

	c, err := newKeyScheduleEpoch(suite, epochSecret, []byte("different"))
	require.NoError(t, err)
	require.NotEqual(t, a.ApplicationSecret, c.ApplicationSecret)
}

func TestNextEpochSecretChainsOffInitSecret(t *testing.T) {
	initSecret0 := randomBytes(t, secretSize)
	updateSecret := randomBytes(t, secretSize)

	epochSecret1 := nextEpochSecret(initSecret0, updateSecret)
	require.Len(t, epochSecret1, secretSize)

	again := nextEpochSecret(initSecret0, updateSecret)
	require.Equal(t, epochSecret1, again)

	withZero := nextEpochSecret(initSecret0, zeroSecret())
	require.NotEqual(t, epochSecret1, withZero)
}

func TestConfirmationMAC(t *testing.T) {
	suite := X25519_SHA256_AES128GCM
	epochSecret := randomBytes(t, secretSize)
	kse, err := newKeyScheduleEpoch(suite, epochSecret, []byte("ctx"))
	require.NoError(t, err)

	hash1 := []byte("transcript-1")
	hash2 := []byte("transcript-2")

	mac1 := kse.confirmationMAC(hash1)
	mac2 := kse.confirmationMAC(hash1)
	require.Equal(t, mac1, mac2)

	mac3 := kse.confirmationMAC(hash2)
	require.NotEqual(t, mac1, mac3)
}

func TestZeroSecretIsAllZero(t *testing.T) {
	z := zeroSecret()
	require.Len(t, z, secretSize)
	for _, b := range z {
		require.Zero(t, b)
	}
}

func TestKeyScheduleEpochZeroize(t *testing.T) {
	suite := P256_SHA256_AES128GCM
	kse, err := newKeyScheduleEpoch(suite, randomBytes(t, secretSize), []byte("ctx"))
	require.NoError(t, err)

	kse.zeroize()
	require.Zero(t, kse.ApplicationSecret[0])

	var nilKse *keyScheduleEpoch
	require.NotPanics(t, func() { nilKse.zeroize() })
}
