package mls

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

var supportedSuites = []CipherSuite{
	P256_SHA256_AES128GCM,
	X25519_SHA256_AES128GCM,
}

func randomBytes(t *testing.T, size int) []byte {
	out := make([]byte, size)
	_, err := rand.Read(out)
	require.NoError(t, err)
	return out
}

// newTestIdentity produces a signing keypair and a Basic credential bound
// to it, the fixture every higher-level test builds a member out of.
func newTestIdentity(t *testing.T, suite CipherSuite, userID string) (SignaturePrivateKey, Credential) {
	sigPriv, err := generateSignature(suite.signatureScheme())
	require.NoError(t, err)

	cred := NewBasicCredential([]byte(userID), suite.signatureScheme(), sigPriv.PublicKey())
	return sigPriv, cred
}

func forEachSuite(t *testing.T, f func(t *testing.T, suite CipherSuite)) {
	for _, suite := range supportedSuites {
		suite := suite
		t.Run(suite.String(), func(t *testing.T) { f(t, suite) })
	}
}
