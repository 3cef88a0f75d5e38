package mls

import (
	"fmt"
	"reflect"

	syntax "github.com/cisco/go-tls-syntax"
)

///
/// Tree hash inputs
///

type ParentNodeInfo struct {
	PublicKey      DHPublicKey
	UnmergedLeaves []leafIndex `tls:"head=4"`
}

type ParentNodeHashInput struct {
	HashType  uint8
	Info      *ParentNodeInfo `tls:"optional"`
	LeftHash  []byte          `tls:"head=1"`
	RightHash []byte          `tls:"head=1"`
}

type LeafNodeInfo struct {
	PublicKey  DHPublicKey
	Credential Credential
}

type LeafNodeHashInput struct {
	HashType uint8
	Info     *LeafNodeInfo `tls:"optional"`
}

///
/// RatchetTreeNode
///

// RatchetTreeNode is either blank (nil) or filled with a DHPublicKey and,
// for leaves, a Credential. UnmergedLeaves tracks leaves that were Added
// under this (internal) node while it was non-blank, so its resolution
// includes them until the next path update through this node.
type RatchetTreeNode struct {
	PublicKey      *DHPublicKey
	UnmergedLeaves []leafIndex `tls:"head=4"`
	Credential     *Credential `tls:"optional"`
}

// Equals compares the public aspects of two nodes.
func (n RatchetTreeNode) Equals(o RatchetTreeNode) bool {
	lhsCredNil := n.Credential == nil
	rhsCredNil := o.Credential == nil
	if lhsCredNil != rhsCredNil {
		return false
	}
	if !lhsCredNil && !n.Credential.Equals(*o.Credential) {
		return false
	}
	if (n.PublicKey == nil) != (o.PublicKey == nil) {
		return false
	}
	if n.PublicKey != nil && !bytesEqual(n.PublicKey.Data, o.PublicKey.Data) {
		return false
	}
	return reflect.DeepEqual(n.UnmergedLeaves, o.UnmergedLeaves)
}

func (n RatchetTreeNode) clone() RatchetTreeNode {
	cloned := RatchetTreeNode{
		Credential:     n.Credential,
		PublicKey:      n.PublicKey,
		UnmergedLeaves: make([]leafIndex, len(n.UnmergedLeaves)),
	}
	copy(cloned.UnmergedLeaves, n.UnmergedLeaves)
	return cloned
}

func (n *RatchetTreeNode) addUnmerged(l leafIndex) {
	n.UnmergedLeaves = append(n.UnmergedLeaves, l)
}

///
/// OptionalRatchetNode
///

type OptionalRatchetNode struct {
	Node *RatchetTreeNode `tls:"optional"`
	Hash []byte           `tls:"omit"`
}

func newLeafNode(key DHPublicKey, cred Credential) OptionalRatchetNode {
	return OptionalRatchetNode{
		Node: &RatchetTreeNode{
			PublicKey:      &key,
			Credential:     &cred,
			UnmergedLeaves: []leafIndex{},
		},
	}
}

func (n OptionalRatchetNode) blank() bool {
	return n.Node == nil
}

// Equals compares node values, not cached hashes.
func (n OptionalRatchetNode) Equals(o OptionalRatchetNode) bool {
	if n.blank() != o.blank() {
		return false
	}
	if n.blank() {
		return true
	}
	return n.Node.Equals(*o.Node)
}

func (n OptionalRatchetNode) clone() OptionalRatchetNode {
	cloned := OptionalRatchetNode{
		Hash: dup(n.Hash),
	}
	if !n.blank() {
		node := n.Node.clone()
		cloned.Node = &node
	}
	return cloned
}

func (n *OptionalRatchetNode) setLeafHash(cs CipherSuite) {
	lhi := LeafNodeHashInput{HashType: 0}
	if n.Node != nil {
		if n.Node.Credential == nil {
			panic(protocolErrorf("mls.ratchet-tree: leaf node not provisioned with a credential"))
		}
		lhi.Info = &LeafNodeInfo{
			PublicKey:  *n.Node.PublicKey,
			Credential: *n.Node.Credential,
		}
	}

	h, err := syntax.Marshal(lhi)
	if err != nil {
		panic(codecErrorf("mls.ratchet-tree: failed to marshal leaf hash input: %v", err))
	}
	n.Hash = cs.digest(h)
}

func (n *OptionalRatchetNode) setParentHash(cs CipherSuite, l, r OptionalRatchetNode) {
	phi := ParentNodeHashInput{HashType: 1}
	if n.Node != nil {
		phi.Info = &ParentNodeInfo{
			PublicKey:      *n.Node.PublicKey,
			UnmergedLeaves: n.Node.UnmergedLeaves,
		}
	}
	phi.LeftHash = l.Hash
	phi.RightHash = r.Hash

	data, err := syntax.Marshal(phi)
	if err != nil {
		panic(codecErrorf("mls.ratchet-tree: failed to marshal parent hash input: %v", err))
	}
	n.Hash = cs.digest(data)
}

///
/// RatchetTree
///

// RatchetNode and DirectPath are the wire types for a path update message
// (spec §6): a public key plus the HPKE ciphertexts encrypting the node's
// path secret to each member of its co-path resolution.
type RatchetNode struct {
	PublicKey   DHPublicKey
	NodeSecrets []HPKECiphertext `tls:"head=2"`
}

type DirectPath struct {
	Nodes []RatchetNode `tls:"head=2"`
}

func (dp *DirectPath) addNode(n RatchetNode) {
	dp.Nodes = append(dp.Nodes, n)
}

// RatchetTree is the fixed-layout array of 2N-1 slots, where N is one more
// than the highest leaf index added so far; leaves sit at even indices,
// internal nodes at odd indices. The tree is left-balanced: N is not
// rounded up to a power of two.
type RatchetTree struct {
	Nodes       []OptionalRatchetNode `tls:"head=4"`
	CipherSuite CipherSuite           `tls:"omit"`
	Secrets     *TreeSecrets          `tls:"omit"`
}

func (t RatchetTree) MarshalTLS() ([]byte, error) {
	enc, err := syntax.Marshal(struct {
		Nodes []OptionalRatchetNode `tls:"head=4"`
	}{Nodes: t.Nodes})
	if err != nil {
		return nil, codecErrorf("mls.ratchet-tree: marshal failed: %v", err)
	}
	return enc, nil
}

func (t *RatchetTree) UnmarshalTLS(data []byte) (int, error) {
	var wire struct {
		Nodes []OptionalRatchetNode `tls:"head=4"`
	}
	read, err := syntax.Unmarshal(data, &wire)
	if err != nil {
		return 0, codecErrorf("mls.ratchet-tree: unmarshal failed: %v", err)
	}
	t.Nodes = wire.Nodes
	if t.Secrets == nil {
		t.Secrets = newTreeSecrets()
	}
	if len(t.Nodes) > 0 {
		t.setHashAll(t.rootIndex())
	}
	return read, nil
}

func newRatchetTree(cs CipherSuite) *RatchetTree {
	return &RatchetTree{
		Nodes:       []OptionalRatchetNode{},
		CipherSuite: cs,
		Secrets:     newTreeSecrets(),
	}
}

func (t RatchetTree) size() leafCount {
	return leafWidth(nodeCount(len(t.Nodes)))
}

func (t RatchetTree) rootIndex() nodeIndex {
	return root(t.size())
}

func (t *RatchetTree) ensureInit(n nodeIndex) {
	if t.Nodes[n].Node == nil {
		t.Nodes[n].Node = &RatchetTreeNode{UnmergedLeaves: []leafIndex{}}
	}
}

func (t *RatchetTree) setPublic(n nodeIndex, pub DHPublicKey) {
	t.Nodes[n].Node.PublicKey = &pub
	t.Nodes[n].Node.UnmergedLeaves = []leafIndex{}
}

func (t *RatchetTree) getPublic(n nodeIndex) DHPublicKey {
	return *t.Nodes[n].Node.PublicKey
}

func (t *RatchetTree) setPrivate(n nodeIndex, priv DHPrivateKey) {
	t.Secrets.PrivateKeys[n] = priv
	t.setPublic(n, priv.PublicKey())
}

func (t *RatchetTree) getPrivate(n nodeIndex) DHPrivateKey {
	return t.Secrets.PrivateKeys[n]
}

func (t *RatchetTree) hasPrivate(n nodeIndex) bool {
	_, ok := t.Secrets.PrivateKeys[n]
	return ok
}

// resolve returns the resolution of index: itself if non-blank (plus any
// leaves merged into it via an Add that never got a subsequent path
// update), or the concatenation of its children's resolutions if blank.
func (t *RatchetTree) resolve(index nodeIndex) []nodeIndex {
	if t.Nodes[index].Node != nil {
		res := []nodeIndex{index}
		for _, l := range t.Nodes[index].Node.UnmergedLeaves {
			res = append(res, toNodeIndex(l))
		}
		return res
	}

	if level(index) == 0 {
		return []nodeIndex{}
	}

	l := t.resolve(left(index))
	r := t.resolve(right(index, t.size()))
	return append(l, r...)
}

func (t *RatchetTree) setHash(index nodeIndex) {
	if level(index) == 0 {
		t.Nodes[index].setLeafHash(t.CipherSuite)
		return
	}
	l := left(index)
	r := right(index, t.size())
	t.Nodes[index].setParentHash(t.CipherSuite, t.Nodes[l], t.Nodes[r])
}

func (t *RatchetTree) setHashPath(index leafIndex) {
	curr := toNodeIndex(index)
	t.Nodes[curr].setLeafHash(t.CipherSuite)

	size := t.size()
	r := root(size)
	for curr != r {
		curr = parent(curr, size)
		l := left(curr)
		rr := right(curr, size)
		t.Nodes[curr].setParentHash(t.CipherSuite, t.Nodes[l], t.Nodes[rr])
	}
}

func (t *RatchetTree) setHashAll(index nodeIndex) {
	if len(t.Nodes) == 0 {
		return
	}
	if level(index) == 0 {
		t.setHash(index)
		return
	}
	t.setHashAll(left(index))
	t.setHashAll(right(index, t.size()))
	t.setHash(index)
}

func (t RatchetTree) RootHash() []byte {
	return t.Nodes[t.rootIndex()].Hash
}

// Dump prints the tree's blank/occupied shape and leaf key material for
// interactive debugging; it is never called by the core library itself.
func (t RatchetTree) Dump(label string) {
	fmt.Printf("===== tree(%s) [%04x] =====\n", label, t.CipherSuite)
	fmt.Printf("===== rootHash [%x] =====\n", t.RootHash())

	for i, n := range t.Nodes {
		if n.blank() {
			fmt.Printf("  %2d _\n", i)
		} else {
			fmt.Printf("  %2d [%x]\n", i, n.Node.PublicKey.Data)
		}
	}
}

// AddLeaf installs a new member at leaf index `index`. It does not blank
// the internal nodes on the path from that leaf to the root: each
// non-blank ancestor keeps its key and records the new leaf in its
// UnmergedLeaves so its resolution still covers it.
func (t *RatchetTree) AddLeaf(index leafIndex, key DHPublicKey, credential Credential) error {
	n := toNodeIndex(index)

	if leafCount(index) >= t.size() {
		if len(t.Nodes) == 0 {
			t.Nodes = append(t.Nodes, OptionalRatchetNode{})
		}
		for nodeIndex(len(t.Nodes)) <= n {
			t.Nodes = append(t.Nodes, OptionalRatchetNode{})
		}
	}

	t.Nodes[n] = newLeafNode(key, credential)

	for _, v := range dirpath(n, t.size()) {
		if v == n || t.Nodes[v].Node == nil {
			continue
		}
		t.Nodes[v].Node.addUnmerged(index)
	}

	t.setHashPath(index)
	return nil
}

// BlankPath blanks every node on the direct path from index to the root.
// includeLeaf controls whether the leaf itself is blanked (false for a
// Remove of a different member's path, true for blanking the removed
// member's own leaf).
func (t *RatchetTree) BlankPath(index leafIndex, includeLeaf bool) error {
	if len(t.Nodes) == 0 {
		return nil
	}

	size := t.size()
	r := t.rootIndex()
	curr := toNodeIndex(index)
	first := true

	for curr != r {
		skip := first && !includeLeaf
		if !skip {
			t.Nodes[curr].Node = nil
			t.Secrets.zeroizeAndDelete(curr)
		}
		first = false
		curr = parent(curr, size)
	}

	t.Nodes[r].Node = nil
	t.Secrets.zeroizeAndDelete(r)

	t.setHashPath(index)
	return nil
}

// pathSecrets walks from `start` to the root, deriving the ancestor chain
// of path secrets per spec §4.F step 2: s_{k+1} = HKDF-Expand(s_k,"node",32).
func (t *RatchetTree) pathSecrets(start nodeIndex, secret []byte) (map[nodeIndex][]byte, error) {
	secrets := map[nodeIndex][]byte{start: dup(secret)}

	curr := start
	for curr != t.rootIndex() {
		next := parent(curr, t.size())
		s, err := hkdfExpandLabel(secrets[curr], "node", nil, 32)
		if err != nil {
			return nil, err
		}
		secrets[next] = s
		curr = next
	}

	return secrets, nil
}

func (t *RatchetTree) nodeKeyPair(pathSecret []byte) (DHPrivateKey, error) {
	return deriveDH(t.CipherSuite, pathSecret)
}

// Encap implements the path-update protocol (§4.F) from leaf `from`: the
// leaf gets a fresh keypair derived from leafSecret, every ancestor gets a
// keypair derived from the HKDF chain of leafSecret, and each co-path
// node's secret is encrypted to every member of that node's resolution.
// Returns the DirectPath to send and the resulting root secret.
func (t *RatchetTree) Encap(from leafIndex, leafSecret []byte) (*DirectPath, []byte, error) {
	dp := &DirectPath{}

	leafNode := toNodeIndex(from)
	leafPriv, err := t.nodeKeyPair(leafSecret)
	if err != nil {
		return nil, nil, err
	}
	t.ensureInit(leafNode)
	t.setPrivate(leafNode, leafPriv)

	dp.addNode(RatchetNode{PublicKey: t.getPublic(leafNode), NodeSecrets: []HPKECiphertext{}})

	secrets, err := t.pathSecrets(leafNode, leafSecret)
	if err != nil {
		return nil, nil, err
	}
	defer zeroizePathSecrets(secrets)

	for _, v := range copath(leafNode, t.size()) {
		p := parent(v, t.size())
		if p == leafNode {
			continue
		}

		pathSecret := secrets[p]
		priv, err := t.nodeKeyPair(pathSecret)
		if err != nil {
			return nil, nil, err
		}
		t.ensureInit(p)
		t.setPrivate(p, priv)

		node := RatchetNode{PublicKey: t.getPublic(p)}
		for _, rnode := range t.resolve(v) {
			ct, err := hpkeSeal(t.CipherSuite, t.getPublic(rnode), pathSecret)
			if err != nil {
				return nil, nil, err
			}
			node.NodeSecrets = append(node.NodeSecrets, ct)
		}

		dp.Nodes = append(dp.Nodes, node)
	}

	t.setHashPath(from)
	return dp, dup(secrets[t.rootIndex()]), nil
}

// implant installs, at every node from `start` up to the root, the private
// key derived from pathSecret's HKDF chain, verifying each derived public
// key matches what is already recorded for that node. Returns the root
// secret.
func (t *RatchetTree) implant(start nodeIndex, pathSecret []byte) ([]byte, error) {
	secrets, err := t.pathSecrets(start, pathSecret)
	if err != nil {
		return nil, err
	}
	defer zeroizePathSecrets(secrets)

	for curr, secret := range secrets {
		priv, err := t.nodeKeyPair(secret)
		if err != nil {
			return nil, err
		}

		if t.Nodes[curr].blank() {
			return nil, protocolErrorf("mls.ratchet-tree: attempt to implant blank node %d", curr)
		}

		if !t.getPublic(curr).Equals(priv.PublicKey()) {
			return nil, protocolErrorf("mls.ratchet-tree: implanted secret does not match existing public key at node %d", curr)
		}

		t.setPrivate(curr, priv)
	}

	return dup(secrets[t.rootIndex()]), nil
}

// decryptPathSecret implements §4.F path decryption steps 1-3: find the
// lowest co-path node whose resolution contains a member we hold the
// private key for, and decrypt that member's ciphertext.
func (t *RatchetTree) decryptPathSecret(from leafIndex, path *DirectPath) (nodeIndex, []byte, error) {
	cp := copath(toNodeIndex(from), t.size())
	if len(path.Nodes) != len(cp)+1 {
		return 0, nil, codecErrorf("mls.ratchet-tree: malformed DirectPath: %d nodes, expected %d", len(path.Nodes), len(cp)+1)
	}
	if len(path.Nodes[0].NodeSecrets) != 0 {
		return 0, nil, codecErrorf("mls.ratchet-tree: malformed DirectPath: leaf node carries ciphertexts")
	}

	for i, curr := range cp {
		res := t.resolve(curr)
		pathNode := path.Nodes[i+1]

		if len(pathNode.NodeSecrets) != len(res) {
			return 0, nil, codecErrorf("mls.ratchet-tree: malformed DirectPath node at co-path level %d", i)
		}

		for idx, v := range res {
			if !t.hasPrivate(v) {
				continue
			}

			pathSecret, err := hpkeOpen(t.getPrivate(v), pathNode.NodeSecrets[idx])
			if err != nil {
				continue
			}

			return parent(curr, t.size()), pathSecret, nil
		}
	}

	return 0, nil, protocolErrorf("mls.ratchet-tree: no co-path ciphertext decrypted")
}

// Decap implements path decryption in full (§4.F steps 1-5): install the
// sender's public keys along the direct path, decrypt the path secret we
// can reach, and implant the resulting private keys from that point up to
// the root. Nodes strictly below the overlap point get public keys only.
func (t *RatchetTree) Decap(from leafIndex, path *DirectPath) ([]byte, error) {
	dp := dirpath(toNodeIndex(from), t.size())
	if len(path.Nodes) != len(dp) {
		return nil, codecErrorf("mls.ratchet-tree: malformed DirectPath: %d nodes, expected %d", len(path.Nodes), len(dp))
	}

	for i, node := range dp {
		t.ensureInit(node)
		t.setPublic(node, path.Nodes[i].PublicKey)
	}

	overlap, pathSecret, err := t.decryptPathSecret(from, path)
	if err != nil {
		return nil, err
	}
	defer zeroize(pathSecret)

	rootSecret, err := t.implant(overlap, pathSecret)
	if err != nil {
		return nil, err
	}

	t.setHashPath(from)
	return rootSecret, nil
}

// Equals compares two trees by public-key material and blank/filled status
// only; private-key presence is not part of equality (§3).
func (t *RatchetTree) Equals(o *RatchetTree) bool {
	if len(t.Nodes) != len(o.Nodes) {
		return false
	}
	for i := range t.Nodes {
		if !t.Nodes[i].Equals(o.Nodes[i]) {
			return false
		}
	}
	return true
}

func (t *RatchetTree) occupied(l leafIndex) bool {
	n := toNodeIndex(l)
	if int(n) >= len(t.Nodes) {
		return false
	}
	return !t.Nodes[n].blank()
}

// LeftmostFree returns the lowest leaf index with no occupant, which may
// be t.size() if the tree is full.
func (t *RatchetTree) LeftmostFree() leafIndex {
	curr := leafIndex(0)
	for curr < leafIndex(t.size()) && t.occupied(curr) {
		curr++
	}
	return curr
}

func (t *RatchetTree) GetCredential(index leafIndex) Credential {
	ni := toNodeIndex(index)
	if t.Nodes[ni].Node == nil {
		panic(protocolErrorf("mls.ratchet-tree: requested credential for a blank leaf"))
	}
	if t.Nodes[ni].Node.Credential == nil {
		panic(protocolErrorf("mls.ratchet-tree: leaf node was not populated with a credential"))
	}
	return *t.Nodes[ni].Node.Credential
}

func (t RatchetTree) clone() *RatchetTree {
	nodes := make([]OptionalRatchetNode, len(t.Nodes))
	for i, n := range t.Nodes {
		nodes[i] = n.clone()
	}

	return &RatchetTree{
		Nodes:       nodes,
		CipherSuite: t.CipherSuite,
		Secrets:     t.Secrets.clone(),
	}
}
