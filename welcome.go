package mls

import syntax "github.com/cisco/go-tls-syntax"

// WelcomeInfo carries the full state a joiner needs to construct a
// GroupState identical to every existing member's.
type WelcomeInfo struct {
	Version        ProtocolVersion
	GroupID        []byte `tls:"head=1"`
	Epoch          uint32
	Roster         Roster
	Tree           RatchetTree
	TranscriptHash []byte `tls:"head=1"`
	InitSecret     []byte `tls:"head=1"`
}

func (wi WelcomeInfo) hash(suite CipherSuite) ([]byte, error) {
	enc, err := syntax.Marshal(wi)
	if err != nil {
		return nil, codecErrorf("mls.welcome: failed to marshal WelcomeInfo: %v", err)
	}
	return suite.digest(enc), nil
}

// Welcome wraps an HPKE encryption of a WelcomeInfo under the joiner's
// advertised init public key, tagged with the ciphersuite used and the id
// of the UserInitKey the joiner published.
type Welcome struct {
	UserInitKeyID []byte `tls:"head=1"`
	CipherSuite   CipherSuite
	EncryptedInfo HPKECiphertext
}

// NewWelcome encrypts info to joinerInitKey under suite.
func NewWelcome(uikID []byte, suite CipherSuite, joinerInitKey DHPublicKey, info WelcomeInfo) (*Welcome, error) {
	plaintext, err := syntax.Marshal(info)
	if err != nil {
		return nil, codecErrorf("mls.welcome: failed to marshal WelcomeInfo: %v", err)
	}

	ct, err := hpkeSeal(suite, joinerInitKey, plaintext)
	if err != nil {
		return nil, err
	}

	return &Welcome{
		UserInitKeyID: dup(uikID),
		CipherSuite:   suite,
		EncryptedInfo: ct,
	}, nil
}

// Decrypt recovers the WelcomeInfo using the joiner's init private key.
func (w Welcome) Decrypt(priv DHPrivateKey) (*WelcomeInfo, error) {
	plaintext, err := hpkeOpen(priv, w.EncryptedInfo)
	if err != nil {
		return nil, err
	}

	info := new(WelcomeInfo)
	if _, err := syntax.Unmarshal(plaintext, info); err != nil {
		return nil, codecErrorf("mls.welcome: failed to unmarshal decrypted WelcomeInfo: %v", err)
	}

	return info, nil
}
