package mls

// keyScheduleEpoch holds the five secrets derived from one epoch's
// epoch_secret (§4.I): application, handshake, sender_data, confirmation,
// and the init_secret carried forward to the next epoch's HKDF-Extract.
type keyScheduleEpoch struct {
	Suite CipherSuite

	EpochSecret       []byte
	ApplicationSecret []byte
	HandshakeSecret   []byte
	SenderDataSecret  []byte
	ConfirmationKey   []byte
	InitSecret        []byte
}

// secretSize is the output length used for every derived secret and the
// confirmation key: both supported suites are SHA-256-based, so 32 bytes.
const secretSize = 32

// deriveSecret implements derive_secret(secret, label, state) from §4.D/
// §4.I: a labelled HKDF-Expand keyed by secret, with the new GroupState's
// canonical encoding as the HkdfLabel context.
func deriveSecret(secret []byte, label string, context []byte) ([]byte, error) {
	return hkdfExpandLabel(secret, label, context, secretSize)
}

// newKeyScheduleEpoch runs the epoch's key schedule: epoch_secret was
// already produced by HKDF-Extract(init_secret_prev, update_secret) by the
// caller; this derives the five named secrets against the new GroupState's
// context per spec §4.I step 2.
func newKeyScheduleEpoch(suite CipherSuite, epochSecret, context []byte) (*keyScheduleEpoch, error) {
	names := []string{"application", "handshake", "sender data", "confirmation", "init"}
	derived := make([][]byte, len(names))
	for i, name := range names {
		s, err := deriveSecret(epochSecret, name, context)
		if err != nil {
			return nil, err
		}
		derived[i] = s
	}

	return &keyScheduleEpoch{
		Suite:             suite,
		EpochSecret:       epochSecret,
		ApplicationSecret: derived[0],
		HandshakeSecret:   derived[1],
		SenderDataSecret:  derived[2],
		ConfirmationKey:   derived[3],
		InitSecret:        derived[4],
	}, nil
}

// zeroSecret is the update_secret fed to the key schedule for an Add: pure
// membership changes carry no fresh entropy of their own, so the epoch
// transition degrades to keying off init_secret alone.
func zeroSecret() []byte {
	return make([]byte, secretSize)
}

// nextEpochSecret computes epoch_secret_n = HKDF-Extract(init_secret_{n-1},
// update_secret) per §4.I step 1.
func nextEpochSecret(initSecretPrev, updateSecret []byte) []byte {
	return hkdfExtract(initSecretPrev, updateSecret)
}

// confirmationMAC is HMAC-SHA256(confirmation_key, new_transcript_hash),
// per §4.H/§4.I — a bare MAC, not a labelled Expand.
func (kse *keyScheduleEpoch) confirmationMAC(transcriptHash []byte) []byte {
	return hmacSHA256(kse.ConfirmationKey, transcriptHash)
}

func (kse *keyScheduleEpoch) zeroize() {
	if kse == nil {
		return
	}
	zeroize(kse.EpochSecret)
	zeroize(kse.ApplicationSecret)
	zeroize(kse.HandshakeSecret)
	zeroize(kse.SenderDataSecret)
	zeroize(kse.ConfirmationKey)
	zeroize(kse.InitSecret)
}
