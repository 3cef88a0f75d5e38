package mls

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"math/big"

	"golang.org/x/crypto/curve25519"

	syntax "github.com/cisco/go-tls-syntax"
)

// CipherSuite ties a DH group, a signature scheme, an AEAD, and a hash
// together under one wire tag. A group instance uses exactly one suite for
// its lifetime.
type CipherSuite uint16

const (
	P256_SHA256_AES128GCM   CipherSuite = 0x0000
	X25519_SHA256_AES128GCM CipherSuite = 0x0001
)

func (cs CipherSuite) ValidForTLS() error {
	return validateEnum(cs, P256_SHA256_AES128GCM, X25519_SHA256_AES128GCM)
}

func (cs CipherSuite) String() string {
	switch cs {
	case P256_SHA256_AES128GCM:
		return "P256_SHA256_AES128GCM"
	case X25519_SHA256_AES128GCM:
		return "X25519_SHA256_AES128GCM"
	default:
		return "UnknownCipherSuite"
	}
}

// signatureScheme returns the signature scheme bound to this suite. P-256
// DH pairs with ECDSA-over-P256; X25519 pairs with Ed25519.
func (cs CipherSuite) signatureScheme() SignatureScheme {
	switch cs {
	case P256_SHA256_AES128GCM:
		return P256_SHA256
	case X25519_SHA256_AES128GCM:
		return Ed25519
	default:
		panic(invalidParameterf("mls.crypto: unknown ciphersuite %v", cs))
	}
}

func (cs CipherSuite) curve() dhCurve {
	switch cs {
	case P256_SHA256_AES128GCM:
		return p256Curve{}
	case X25519_SHA256_AES128GCM:
		return x25519Curve{}
	default:
		panic(invalidParameterf("mls.crypto: unknown ciphersuite %v", cs))
	}
}

// digest is the suite's hash function, used for tree-node hashing and
// transcript hashing alike. Both supported suites use SHA-256.
func (cs CipherSuite) digest(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// reproducible reports whether sign() over this suite's signature scheme
// produces byte-identical output across runs for the same key and message.
// ECDSA is randomized; Ed25519 is deterministic.
func (cs CipherSuite) reproducible() bool {
	return cs.signatureScheme() == Ed25519
}

// SignatureScheme identifies a signing algorithm independent of the DH
// group it is conventionally paired with in a CipherSuite.
type SignatureScheme uint16

const (
	P256_SHA256 SignatureScheme = 0x0000
	Ed25519     SignatureScheme = 0x0001
)

func (ss SignatureScheme) ValidForTLS() error {
	return validateEnum(ss, P256_SHA256, Ed25519)
}

// ProtocolVersion is the wire version tag carried on every top-level message.
type ProtocolVersion uint8

const ProtocolVersionMLS10 ProtocolVersion = 0x00

func (pv ProtocolVersion) ValidForTLS() error {
	return validateEnum(pv, ProtocolVersionMLS10)
}

///
/// DH key wrappers
///

// dhCurve is the uniform surface each DH group implements. Keys are passed
// around as raw bytes (the marshalled form); there is no native key object
// held across calls, matching the "raw scalar/point" shape of the wire
// format rather than a long-lived OpenSSL-style handle.
type dhCurve interface {
	generate() (priv, pub []byte, err error)
	derive(seed []byte) (priv, pub []byte, err error)
	pub(priv []byte) ([]byte, error)
	dh(priv, pub []byte) ([]byte, error)
	validatePublic(pub []byte) error
}

// x25519HashPrefix domain-separates X25519 seed hashing from any other use
// of SHA-256 over caller-supplied seed material. Divergence from plain
// X25519 clamping, preserved for interop per the source this is ported from.
const x25519HashPrefix byte = 0x01

type x25519Curve struct{}

func (x25519Curve) generate() (priv, pub []byte, err error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, nil, cryptoErrorf("mls.crypto: random failure: %v", err)
	}
	return x25519Curve{}.derive(seed)
}

func (x25519Curve) derive(seed []byte) (priv, pub []byte, err error) {
	h := sha256.New()
	h.Write([]byte{x25519HashPrefix})
	h.Write(seed)
	priv = h.Sum(nil)

	pub, err = x25519Curve{}.pub(priv)
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

func (x25519Curve) pub(priv []byte) ([]byte, error) {
	if len(priv) != 32 {
		return nil, invalidParameterf("mls.crypto: x25519 private key must be 32 bytes")
	}
	var pub, p [32]byte
	copy(p[:], priv)
	curve25519.ScalarBaseMult(&pub, &p)
	return pub[:], nil
}

func (x25519Curve) dh(priv, pub []byte) ([]byte, error) {
	if len(priv) != 32 || len(pub) != 32 {
		return nil, invalidParameterf("mls.crypto: x25519 keys must be 32 bytes")
	}
	var out, p, q [32]byte
	copy(p[:], priv)
	copy(q[:], pub)
	curve25519.ScalarMult(&out, &p, &q)
	return out[:], nil
}

func (x25519Curve) validatePublic(pub []byte) error {
	if len(pub) != 32 {
		return cryptoErrorf("mls.crypto: invalid x25519 public key length %d", len(pub))
	}
	return nil
}

type p256Curve struct{}

func (p256Curve) curve() elliptic.Curve { return elliptic.P256() }

func (c p256Curve) generate() (priv, pub []byte, err error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, nil, cryptoErrorf("mls.crypto: random failure: %v", err)
	}
	return c.derive(seed)
}

func (c p256Curve) derive(seed []byte) (priv, pub []byte, err error) {
	h := sha256.Sum256(seed)

	curve := c.curve()
	order := curve.Params().N
	d := new(big.Int).SetBytes(h[:])
	d.Mod(d, order)
	if d.Sign() == 0 {
		return nil, nil, cryptoErrorf("mls.crypto: derived p256 scalar is zero")
	}

	priv = make([]byte, 32)
	d.FillBytes(priv)

	x, y := curve.ScalarBaseMult(priv)
	pub = elliptic.Marshal(curve, x, y)
	return priv, pub, nil
}

func (c p256Curve) pub(priv []byte) ([]byte, error) {
	if len(priv) != 32 {
		return nil, invalidParameterf("mls.crypto: p256 private key must be 32 bytes")
	}
	curve := c.curve()
	x, y := curve.ScalarBaseMult(priv)
	return elliptic.Marshal(curve, x, y), nil
}

func (c p256Curve) dh(priv, pub []byte) ([]byte, error) {
	curve := c.curve()
	x, y := elliptic.Unmarshal(curve, pub)
	if x == nil {
		return nil, cryptoErrorf("mls.crypto: invalid p256 public key point")
	}

	sx, _ := curve.ScalarMult(x, y, priv)
	out := make([]byte, 32)
	sx.FillBytes(out)
	return out, nil
}

func (c p256Curve) validatePublic(pub []byte) error {
	curve := c.curve()
	x, y := elliptic.Unmarshal(curve, pub)
	if x == nil || !curve.IsOnCurve(x, y) {
		return cryptoErrorf("mls.crypto: invalid p256 public key point")
	}
	return nil
}

// DHPublicKey wraps a raw DH public key for one ciphersuite's curve. On the
// wire it is opaque<2> around the curve's native marshalled form (32-byte
// raw X25519, uncompressed SEC1 for P-256).
type DHPublicKey struct {
	CipherSuite CipherSuite `tls:"omit"`
	Data        []byte      `tls:"head=2"`
}

func (k DHPublicKey) Equals(o DHPublicKey) bool {
	return k.CipherSuite == o.CipherSuite && bytesEqual(k.Data, o.Data)
}

// DHPrivateKey wraps a raw DH private key plus its cached public half.
type DHPrivateKey struct {
	CipherSuite CipherSuite `tls:"omit"`
	Data        []byte      `tls:"head=2"`
	pub         DHPublicKey
}

// dhDerive runs the raw (unhashed) ECDH shared-secret computation against
// another party's public key.
func (k DHPrivateKey) dhDerive(pub DHPublicKey) ([]byte, error) {
	return k.CipherSuite.curve().dh(k.Data, pub.Data)
}

func generateDH(suite CipherSuite) (DHPrivateKey, error) {
	priv, pub, err := suite.curve().generate()
	if err != nil {
		return DHPrivateKey{}, err
	}
	return DHPrivateKey{
		CipherSuite: suite,
		Data:        priv,
		pub:         DHPublicKey{CipherSuite: suite, Data: pub},
	}, nil
}

// deriveDH deterministically derives a DH keypair from a 32-byte seed.
// Determinism across runs is required: tests depend on it.
func deriveDH(suite CipherSuite, seed []byte) (DHPrivateKey, error) {
	if len(seed) != 32 {
		return DHPrivateKey{}, invalidParameterf("mls.crypto: dh seed must be 32 bytes")
	}
	priv, pub, err := suite.curve().derive(seed)
	if err != nil {
		return DHPrivateKey{}, err
	}
	return DHPrivateKey{
		CipherSuite: suite,
		Data:        priv,
		pub:         DHPublicKey{CipherSuite: suite, Data: pub},
	}, nil
}

func parseDHPublicKey(suite CipherSuite, data []byte) (DHPublicKey, error) {
	if err := suite.curve().validatePublic(data); err != nil {
		return DHPublicKey{}, err
	}
	return DHPublicKey{CipherSuite: suite, Data: dup(data)}, nil
}

func (k DHPrivateKey) PublicKey() DHPublicKey {
	return k.pub
}

func (k DHPrivateKey) Equals(o DHPrivateKey) bool {
	return k.CipherSuite == o.CipherSuite && bytesEqual(k.Data, o.Data)
}

///
/// Signature key wrappers
///

// SignaturePublicKey wraps a raw signature verification key.
type SignaturePublicKey struct {
	Scheme SignatureScheme `tls:"omit"`
	Data   []byte          `tls:"head=2"`
}

func (k SignaturePublicKey) Equals(o SignaturePublicKey) bool {
	return k.Scheme == o.Scheme && bytesEqual(k.Data, o.Data)
}

func (k SignaturePublicKey) Verify(message, sig []byte) bool {
	switch k.Scheme {
	case Ed25519:
		if len(k.Data) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(k.Data), message, sig)

	case P256_SHA256:
		curve := elliptic.P256()
		x, y := elliptic.Unmarshal(curve, k.Data)
		if x == nil {
			return false
		}
		pub := &ecdsa.PublicKey{Curve: curve, X: x, Y: y}
		h := sha256.Sum256(message)
		return ecdsa.VerifyASN1(pub, h[:], sig)

	default:
		return false
	}
}

// SignaturePrivateKey wraps a raw signing key plus its cached public half.
type SignaturePrivateKey struct {
	Scheme SignatureScheme `tls:"omit"`
	Data   []byte          `tls:"head=2"`
	pub    SignaturePublicKey
}

func generateSignature(scheme SignatureScheme) (SignaturePrivateKey, error) {
	switch scheme {
	case Ed25519:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return SignaturePrivateKey{}, cryptoErrorf("mls.crypto: random failure: %v", err)
		}
		return SignaturePrivateKey{
			Scheme: scheme,
			Data:   priv,
			pub:    SignaturePublicKey{Scheme: scheme, Data: pub},
		}, nil

	case P256_SHA256:
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return SignaturePrivateKey{}, cryptoErrorf("mls.crypto: random failure: %v", err)
		}
		d := make([]byte, 32)
		priv.D.FillBytes(d)
		pub := elliptic.Marshal(elliptic.P256(), priv.X, priv.Y)
		return SignaturePrivateKey{
			Scheme: scheme,
			Data:   d,
			pub:    SignaturePublicKey{Scheme: scheme, Data: pub},
		}, nil

	default:
		return SignaturePrivateKey{}, invalidParameterf("mls.crypto: unknown signature scheme %v", scheme)
	}
}

func (k SignaturePrivateKey) PublicKey() SignaturePublicKey {
	return k.pub
}

// Sign produces a signature over message. ECDSA signing is non-deterministic;
// Ed25519 signing is deterministic (see CipherSuite.reproducible).
func (k SignaturePrivateKey) Sign(message []byte) ([]byte, error) {
	switch k.Scheme {
	case Ed25519:
		if len(k.Data) != ed25519.PrivateKeySize {
			return nil, invalidParameterf("mls.crypto: malformed ed25519 private key")
		}
		return ed25519.Sign(ed25519.PrivateKey(k.Data), message), nil

	case P256_SHA256:
		curve := elliptic.P256()
		d := new(big.Int).SetBytes(k.Data)
		x, y := curve.ScalarBaseMult(k.Data)
		priv := &ecdsa.PrivateKey{
			PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
			D:         d,
		}
		h := sha256.Sum256(message)
		sig, err := ecdsa.SignASN1(rand.Reader, priv, h[:])
		if err != nil {
			return nil, cryptoErrorf("mls.crypto: ecdsa sign failed: %v", err)
		}
		return sig, nil

	default:
		return nil, invalidParameterf("mls.crypto: unknown signature scheme %v", k.Scheme)
	}
}

func (k SignaturePrivateKey) Equals(o SignaturePrivateKey) bool {
	return k.Scheme == o.Scheme && bytesEqual(k.Data, o.Data)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

///
/// KDF
///

// hmacSHA256 is plain HMAC-SHA256, used directly (not via hkdfExpand's
// trailing-0x01 convention) wherever the spec calls for a bare MAC, such
// as the handshake confirmation.
func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// hkdfExtract implements HKDF-Extract(salt, ikm) = HMAC-SHA256(salt, ikm).
func hkdfExtract(salt, ikm []byte) []byte {
	if len(salt) == 0 {
		salt = make([]byte, sha256.Size)
	}
	return hmacSHA256(salt, ikm)
}

// hkdfExpand implements the protocol's intentionally simplified single-block
// Expand: HMAC-SHA256(secret, info || 0x01)[0:L]. This is correct only for
// L <= hash length; callers must not request more than 32 bytes.
func hkdfExpand(secret, info []byte, length int) []byte {
	if length > sha256.Size {
		panic(invalidParameterf("mls.crypto: hkdfExpand length %d exceeds %d-byte bound", length, sha256.Size))
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(info)
	mac.Write([]byte{0x01})
	return mac.Sum(nil)[:length]
}

// hkdfLabel is the struct serialized via the wire codec and used as the
// `info` parameter to hkdfExpand for every labelled derivation in this
// package: deriveSecret (key schedule), the ratchet tree's path-secret
// chain, and the ECIES box.
type hkdfLabel struct {
	Length uint16
	Label  []byte `tls:"head=1"`
	State  []byte `tls:"head=4"`
}

// hkdfExpandLabel derives length bytes of key material from secret, with
// the label domain-separated as "mls10 "+userLabel and context serialized
// ahead of time by the caller (the canonical encoding of a GroupState, or
// empty for context-free derivations like the ECIES box).
func hkdfExpandLabel(secret []byte, userLabel string, context []byte, length int) ([]byte, error) {
	label := hkdfLabel{
		Length: uint16(length),
		Label:  []byte("mls10 " + userLabel),
		State:  context,
	}

	info, err := syntax.Marshal(label)
	if err != nil {
		return nil, codecErrorf("mls.crypto: failed to marshal HkdfLabel: %v", err)
	}

	return hkdfExpand(secret, info, length), nil
}

///
/// AEAD
///

// aeadSeal runs AES-GCM with a 12-byte nonce and a 16-byte appended tag.
func aeadSeal(key, nonce, aad, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, invalidParameterf("mls.crypto: bad AES key size %d", len(key))
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(nonce))
	if err != nil {
		return nil, cryptoErrorf("mls.crypto: failed to construct AES-GCM: %v", err)
	}
	return gcm.Seal(nil, nonce, plaintext, aad), nil
}

func aeadOpen(key, nonce, aad, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, invalidParameterf("mls.crypto: bad AES key size %d", len(key))
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(nonce))
	if err != nil {
		return nil, cryptoErrorf("mls.crypto: failed to construct AES-GCM: %v", err)
	}
	pt, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, cryptoErrorf("mls.crypto: AES-GCM authentication failed")
	}
	return pt, nil
}

///
/// HPKE (ECIES construction)
///

// HPKECiphertext records an ephemeral DH public key plus the AEAD output of
// a key/nonce pair derived from the DH shared secret.
type HPKECiphertext struct {
	Ephemeral DHPublicKey
	Content   []byte `tls:"head=3"`
}

// hpkeSeal implements spec §4.E encrypt(): fresh ephemeral DH keypair, raw
// DH shared secret, labelled Expand into a 16-byte key and 12-byte nonce,
// AES-128-GCM seal.
func hpkeSeal(suite CipherSuite, recipient DHPublicKey, plaintext []byte) (HPKECiphertext, error) {
	ephemeral, err := generateDH(suite)
	if err != nil {
		return HPKECiphertext{}, err
	}
	defer zeroize(ephemeral.Data)

	shared, err := ephemeral.dhDerive(recipient)
	if err != nil {
		return HPKECiphertext{}, err
	}
	defer zeroize(shared)

	key, nonce, err := hpkeKeyNonce(shared)
	if err != nil {
		return HPKECiphertext{}, err
	}
	defer zeroize(key)
	defer zeroize(nonce)

	ct, err := aeadSeal(key, nonce, nil, plaintext)
	if err != nil {
		return HPKECiphertext{}, err
	}

	return HPKECiphertext{Ephemeral: ephemeral.PublicKey(), Content: ct}, nil
}

// hpkeOpen implements spec §4.E decrypt(): mirror of hpkeSeal.
func hpkeOpen(priv DHPrivateKey, ct HPKECiphertext) ([]byte, error) {
	shared, err := priv.dhDerive(ct.Ephemeral)
	if err != nil {
		return nil, err
	}
	defer zeroize(shared)

	key, nonce, err := hpkeKeyNonce(shared)
	if err != nil {
		return nil, err
	}
	defer zeroize(key)
	defer zeroize(nonce)

	return aeadOpen(key, nonce, nil, ct.Content)
}

func hpkeKeyNonce(shared []byte) (key, nonce []byte, err error) {
	key, err = hkdfExpandLabel(shared, "ecies key", nil, 16)
	if err != nil {
		return nil, nil, err
	}
	nonce, err = hkdfExpandLabel(shared, "ecies nonce", nil, 12)
	if err != nil {
		return nil, nil, err
	}
	return key, nonce, nil
}
