package mls

// TreeSecrets holds the private halves of whichever tree nodes this
// participant currently knows, keyed by array index. Nodes with no entry
// here are known only by public key (or are blank).
type TreeSecrets struct {
	PrivateKeys map[nodeIndex]DHPrivateKey
}

func newTreeSecrets() *TreeSecrets {
	return &TreeSecrets{
		PrivateKeys: map[nodeIndex]DHPrivateKey{},
	}
}

// clone deep-copies every held private key's raw material. This must not
// share backing arrays with the original: a clone and the tree it was
// cloned from diverge and are zeroized independently, so an aliased Data
// slice would let zeroizing one scrub the other's still-live key.
func (ts *TreeSecrets) clone() *TreeSecrets {
	if ts == nil {
		return newTreeSecrets()
	}

	out := newTreeSecrets()
	for i, priv := range ts.PrivateKeys {
		cloned := priv
		cloned.Data = dup(priv.Data)
		out.PrivateKeys[i] = cloned
	}
	return out
}

// zeroizeAll overwrites every held private key's raw material. Called on a
// superseded epoch's tree when commit swaps in its successor; the clones
// discarded by a failed Apply are not scrubbed.
func (ts *TreeSecrets) zeroizeAll() {
	if ts == nil {
		return
	}
	for _, priv := range ts.PrivateKeys {
		zeroize(priv.Data)
	}
}

// zeroizeAndDelete scrubs the private key held at n, if any, before
// removing its entry: path secrets spec §5 names explicitly must not
// linger in memory once a node is blanked.
func (ts *TreeSecrets) zeroizeAndDelete(n nodeIndex) {
	if ts == nil {
		return
	}
	if priv, ok := ts.PrivateKeys[n]; ok {
		zeroize(priv.Data)
	}
	delete(ts.PrivateKeys, n)
}

// zeroizePathSecrets scrubs every intermediate path secret in a chain
// produced by pathSecrets, once each has been consumed into a node keypair.
// Callers that need to keep one entry (typically the root secret) must dup
// it out before calling this.
func zeroizePathSecrets(secrets map[nodeIndex][]byte) {
	for _, s := range secrets {
		zeroize(s)
	}
}
