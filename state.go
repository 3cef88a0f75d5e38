package mls

import (
	"fmt"

	syntax "github.com/cisco/go-tls-syntax"
)

// groupContext is the canonical encoding bound into every epoch's key
// schedule as the HkdfLabel context (§4.I step 2) and into WelcomeInfo's
// hash: everything a joiner or a verifier needs to recompute that binding.
type groupContext struct {
	Version        ProtocolVersion
	GroupID        []byte `tls:"head=1"`
	Epoch          uint32
	Roster         Roster
	Tree           RatchetTree
	TranscriptHash []byte `tls:"head=1"`
}

func (gc groupContext) encode() ([]byte, error) {
	enc, err := syntax.Marshal(gc)
	if err != nil {
		return nil, codecErrorf("mls.state: failed to marshal group context: %v", err)
	}
	return enc, nil
}

// GroupState is one member's view of a group at a particular epoch: the
// membership roster, the ratchet tree, the running transcript hash, and
// the init_secret that seeds the next epoch's key schedule. Index,
// IdentityPriv, and Keys are local-only: never sent, never compared.
type GroupState struct {
	CipherSuite    CipherSuite `tls:"omit"`
	Version        ProtocolVersion
	GroupID        []byte `tls:"head=1"`
	Epoch          uint32
	Roster         Roster
	Tree           RatchetTree
	TranscriptHash []byte `tls:"head=1"`
	InitSecret     []byte `tls:"head=1"`

	Index        leafIndex           `tls:"omit"`
	IdentityPriv SignaturePrivateKey `tls:"omit"`
	Keys         *keyScheduleEpoch   `tls:"omit"`
}

// CreateGroup starts a new group with a single member: the caller, at
// leaf 0, epoch 0. leafSecret seeds that leaf's own keypair, which doubles
// as the tree's root secret until anyone else joins.
func CreateGroup(groupID []byte, suite CipherSuite, leafSecret []byte, identityPriv SignaturePrivateKey, cred Credential) (*GroupState, error) {
	tree := newRatchetTree(suite)
	leafPriv, err := deriveDH(suite, leafSecret)
	if err != nil {
		return nil, err
	}
	if err := tree.AddLeaf(0, leafPriv.PublicKey(), cred); err != nil {
		return nil, err
	}
	tree.setPrivate(toNodeIndex(0), leafPriv)
	tree.setHashPath(0)

	roster := newRoster()
	roster.add(0, cred)

	s := &GroupState{
		CipherSuite:    suite,
		Version:        ProtocolVersionMLS10,
		GroupID:        dup(groupID),
		Epoch:          0,
		Roster:         *roster,
		Tree:           *tree,
		TranscriptHash: []byte{},
		Index:          0,
		IdentityPriv:   identityPriv,
	}

	context, err := s.context().encode()
	if err != nil {
		return nil, err
	}

	epochSecret := nextEpochSecret(make([]byte, secretSize), leafSecret)
	kse, err := newKeyScheduleEpoch(suite, epochSecret, context)
	if err != nil {
		return nil, err
	}

	s.InitSecret = kse.InitSecret
	s.Keys = kse
	return s, nil
}

// JoinFromWelcome reconstructs the state a Welcome advertises: the tree,
// roster, and transcript hash are taken verbatim, and Keys is left nil
// until the first Handshake of the next epoch runs the key schedule.
func JoinFromWelcome(welcome *Welcome, index leafIndex, initPriv DHPrivateKey, identityPriv SignaturePrivateKey) (*GroupState, error) {
	info, err := welcome.Decrypt(initPriv)
	if err != nil {
		return nil, err
	}

	tree := info.Tree
	tree.CipherSuite = welcome.CipherSuite
	if tree.Secrets == nil {
		tree.Secrets = newTreeSecrets()
	}
	tree.setPrivate(toNodeIndex(index), initPriv)

	return &GroupState{
		CipherSuite:    welcome.CipherSuite,
		Version:        info.Version,
		GroupID:        dup(info.GroupID),
		Epoch:          info.Epoch,
		Roster:         info.Roster,
		Tree:           tree,
		TranscriptHash: dup(info.TranscriptHash),
		InitSecret:     dup(info.InitSecret),
		Index:          index,
		IdentityPriv:   identityPriv,
	}, nil
}

func (s GroupState) context() groupContext {
	return groupContext{
		Version:        s.Version,
		GroupID:        s.GroupID,
		Epoch:          s.Epoch,
		Roster:         s.Roster,
		Tree:           s.Tree,
		TranscriptHash: s.TranscriptHash,
	}
}

// welcomeInfo snapshots the state needed to hand off to a new joiner.
func (s GroupState) welcomeInfo() WelcomeInfo {
	return WelcomeInfo{
		Version:        s.Version,
		GroupID:        s.GroupID,
		Epoch:          s.Epoch,
		Roster:         s.Roster,
		Tree:           s.Tree,
		TranscriptHash: s.TranscriptHash,
		InitSecret:     s.InitSecret,
	}
}

// transcriptHashNext is transcript_hash_n = SHA256(transcript_hash_{n-1}
// || marshal(operation_n)) per §4.H.
func (s GroupState) transcriptHashNext(op GroupOperation) ([]byte, error) {
	enc, err := syntax.Marshal(op)
	if err != nil {
		return nil, codecErrorf("mls.state: failed to marshal operation for transcript hash: %v", err)
	}
	return s.CipherSuite.digest(append(dup(s.TranscriptHash), enc...)), nil
}

// AddMember proposes a new member at the lowest free leaf, signs the
// resulting Handshake, applies it locally, and returns both the Handshake
// (for the rest of the group) and a Welcome (for the joiner alone).
func (s *GroupState) AddMember(uik UserInitKey, joinerInitKey DHPublicKey) (*Handshake, *Welcome, error) {
	suitePub, ok := uik.FindInitKey(s.CipherSuite)
	if !ok || !suitePub.Equals(joinerInitKey) {
		return nil, nil, protocolErrorf("mls.state: UserInitKey does not advertise this group's ciphersuite")
	}
	if !uik.Verify() {
		return nil, nil, cryptoErrorf("mls.state: UserInitKey signature invalid")
	}

	index := s.Tree.LeftmostFree()

	info := s.welcomeInfo()
	infoHash, err := info.hash(s.CipherSuite)
	if err != nil {
		return nil, nil, err
	}

	op := GroupOperation{Add: &Add{
		Index:           uint32(index),
		InitKey:         uik,
		WelcomeInfoHash: infoHash,
	}}

	handshake, err := s.signHandshake(op)
	if err != nil {
		return nil, nil, err
	}

	clone := s.Tree.clone()
	roster := s.Roster.clone()
	if err := applyAddToTree(clone, roster, op); err != nil {
		return nil, nil, err
	}

	if err := s.commit(clone, roster, op, handshake, zeroSecret(), false); err != nil {
		return nil, nil, err
	}

	welcome, err := NewWelcome(uik.ID, s.CipherSuite, joinerInitKey, s.welcomeInfo())
	if err != nil {
		return nil, nil, err
	}

	return handshake, welcome, nil
}

// Update ratchets the caller's own leaf to a fresh keypair derived from
// leafSecret, repairing the tree's forward secrecy for everything below
// the caller's ancestors.
func (s *GroupState) Update(leafSecret []byte) (*Handshake, error) {
	clone := s.Tree.clone()
	path, rootSecret, err := clone.Encap(s.Index, leafSecret)
	if err != nil {
		return nil, err
	}

	op := GroupOperation{Update: &UpdateOperation{Path: *path}}

	handshake, err := s.signHandshake(op)
	if err != nil {
		return nil, err
	}

	roster := s.Roster.clone()
	if err := s.commit(clone, roster, op, handshake, rootSecret, false); err != nil {
		return nil, err
	}

	return handshake, nil
}

// RemoveMember blanks removed's direct path and repairs the tree around it
// with the caller's own path update, carrying the two together so every
// other member can apply them in one step.
func (s *GroupState) RemoveMember(removed leafIndex, leafSecret []byte) (*Handshake, error) {
	if removed == s.Index {
		return nil, invalidParameterf("mls.state: cannot remove own leaf")
	}

	clone := s.Tree.clone()
	if err := clone.BlankPath(removed, true); err != nil {
		return nil, err
	}

	path, rootSecret, err := clone.Encap(s.Index, leafSecret)
	if err != nil {
		return nil, err
	}

	op := GroupOperation{Remove: &RemoveOperation{Removed: uint32(removed), Path: *path}}

	handshake, err := s.signHandshake(op)
	if err != nil {
		return nil, err
	}

	roster := s.Roster.clone()
	if err := roster.remove(removed); err != nil {
		return nil, err
	}

	if err := s.commit(clone, roster, op, handshake, rootSecret, false); err != nil {
		return nil, err
	}

	return handshake, nil
}

func (s GroupState) signHandshake(op GroupOperation) (*Handshake, error) {
	h := &Handshake{
		PriorEpoch:  s.Epoch,
		Operation:   op,
		SignerIndex: uint32(s.Index),
	}
	if err := h.sign(s.IdentityPriv); err != nil {
		return nil, err
	}
	return h, nil
}

// Apply validates and applies a Handshake received from another member,
// per §4.I / §5: check the epoch, resolve and verify the signer, apply the
// operation to clones of the tree and roster, run the key schedule, and
// verify the confirmation before swapping anything in. On any failure the
// receiver's state is left exactly as it was.
func (s *GroupState) Apply(h *Handshake) error {
	if h.PriorEpoch != s.Epoch {
		return protocolErrorf("mls.state: handshake for epoch %d does not match current epoch %d", h.PriorEpoch, s.Epoch)
	}

	signerCred, ok := s.Roster.get(leafIndex(h.SignerIndex))
	if !ok {
		return protocolErrorf("mls.state: unknown signer index %d", h.SignerIndex)
	}

	verified, err := h.verifySignature(signerCred.PublicKey())
	if err != nil {
		return err
	}
	if !verified {
		return cryptoErrorf("mls.state: handshake signature invalid")
	}

	clone := s.Tree.clone()
	roster := s.Roster.clone()

	var updateSecret []byte
	switch h.Operation.Type() {
	case GroupOperationAdd:
		if err := applyAddToTree(clone, roster, h.Operation); err != nil {
			return err
		}
		updateSecret = zeroSecret()

	case GroupOperationUpdate:
		updateSecret, err = clone.Decap(leafIndex(h.SignerIndex), &h.Operation.Update.Path)
		if err != nil {
			return err
		}

	case GroupOperationRemove:
		removed := leafIndex(h.Operation.Remove.Removed)
		if err := clone.BlankPath(removed, true); err != nil {
			return err
		}
		if err := roster.remove(removed); err != nil {
			return err
		}
		updateSecret, err = clone.Decap(leafIndex(h.SignerIndex), &h.Operation.Remove.Path)
		if err != nil {
			return err
		}
	}

	return s.commit(clone, roster, h.Operation, h, updateSecret, true)
}

// applyAddToTree handles the membership-only side of Add, shared by the
// proposer (who already knows the result) and receivers alike: there is
// no path update to decrypt, just a new leaf to install.
func applyAddToTree(tree *RatchetTree, roster *Roster, op GroupOperation) error {
	add := op.Add
	pub, ok := add.InitKey.FindInitKey(tree.CipherSuite)
	if !ok {
		return protocolErrorf("mls.state: Add's UserInitKey has no key for this ciphersuite")
	}
	if err := tree.AddLeaf(leafIndex(add.Index), pub, add.InitKey.Credential); err != nil {
		return err
	}
	roster.add(leafIndex(add.Index), add.InitKey.Credential)
	return nil
}

// commit runs the key schedule against the tentative post-operation state
// and either swaps it in (setting or checking h.Confirmation according to
// verify) or leaves the receiver's state untouched.
func (s *GroupState) commit(tree *RatchetTree, roster *Roster, op GroupOperation, h *Handshake, updateSecret []byte, verify bool) error {
	newTranscriptHash, err := s.transcriptHashNext(op)
	if err != nil {
		return err
	}

	next := groupContext{
		Version:        s.Version,
		GroupID:        s.GroupID,
		Epoch:          s.Epoch + 1,
		Roster:         *roster,
		Tree:           *tree,
		TranscriptHash: newTranscriptHash,
	}
	context, err := next.encode()
	if err != nil {
		return err
	}

	epochSecret := nextEpochSecret(s.InitSecret, updateSecret)
	kse, err := newKeyScheduleEpoch(s.CipherSuite, epochSecret, context)
	if err != nil {
		return err
	}

	confirmation := kse.confirmationMAC(newTranscriptHash)
	if verify {
		if !bytesEqual(h.Confirmation, confirmation) {
			kse.zeroize()
			return protocolErrorf("mls.state: handshake confirmation does not match")
		}
	} else {
		h.Confirmation = confirmation
	}

	s.Keys.zeroize()
	s.Tree.Secrets.zeroizeAll()
	s.Tree = *tree
	s.Roster = *roster
	s.Epoch++
	s.TranscriptHash = newTranscriptHash
	s.InitSecret = kse.InitSecret
	s.Keys = kse
	return nil
}

// Dump prints the state's epoch, roster, and tree shape for interactive
// debugging; it is never called by the core library itself.
func (s GroupState) Dump(label string) {
	fmt.Printf("===== state(%s) epoch=%d members=%d =====\n", label, s.Epoch, len(s.Roster.Entries))
	s.Tree.Dump(label)
}

// Equals compares the public, marshalled-equivalent portions of two
// states; local-only fields (Index, IdentityPriv, Keys) are excluded.
func (s GroupState) Equals(o GroupState) bool {
	return s.Version == o.Version &&
		bytesEqual(s.GroupID, o.GroupID) &&
		s.Epoch == o.Epoch &&
		s.Roster.Equals(o.Roster) &&
		s.Tree.Equals(&o.Tree) &&
		bytesEqual(s.TranscriptHash, o.TranscriptHash) &&
		bytesEqual(s.InitSecret, o.InitSecret)
}
