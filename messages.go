package mls

import syntax "github.com/cisco/go-tls-syntax"

// UserInitKey is a participant's advertisement of itself to the rest of
// the world: one init DH key per ciphersuite it supports, bound to a
// credential by a signature over every preceding field.
type UserInitKey struct {
	ID            []byte        `tls:"head=1"`
	SupportedVersions []ProtocolVersion `tls:"head=1"`
	CipherSuites  []CipherSuite `tls:"head=1"`
	InitKeys      []DHPublicKey `tls:"head=2"`
	Credential    Credential
	Signature     []byte `tls:"head=2"`
}

// NewUserInitKey builds and signs a UserInitKey over a single ciphersuite,
// the common case for a prospective group member advertising itself.
func NewUserInitKey(id []byte, suite CipherSuite, initPub DHPublicKey, cred Credential, sigPriv SignaturePrivateKey) (*UserInitKey, error) {
	uik := &UserInitKey{
		ID:                dup(id),
		SupportedVersions: []ProtocolVersion{ProtocolVersionMLS10},
		CipherSuites:      []CipherSuite{suite},
		InitKeys:          []DHPublicKey{initPub},
		Credential:        cred,
	}
	if err := uik.sign(sigPriv); err != nil {
		return nil, err
	}
	return uik, nil
}

// ToBeSigned returns the canonical pre-image covered by Signature: the
// encoding of every field preceding it.
func (uik UserInitKey) ToBeSigned() ([]byte, error) {
	tbs := struct {
		ID                []byte            `tls:"head=1"`
		SupportedVersions []ProtocolVersion `tls:"head=1"`
		CipherSuites      []CipherSuite     `tls:"head=1"`
		InitKeys          []DHPublicKey     `tls:"head=2"`
		Credential        Credential
	}{
		ID:                uik.ID,
		SupportedVersions: uik.SupportedVersions,
		CipherSuites:      uik.CipherSuites,
		InitKeys:          uik.InitKeys,
		Credential:        uik.Credential,
	}

	enc, err := syntax.Marshal(tbs)
	if err != nil {
		return nil, codecErrorf("mls.messages: failed to marshal UserInitKey to-be-signed: %v", err)
	}
	return enc, nil
}

func (uik *UserInitKey) sign(priv SignaturePrivateKey) error {
	tbs, err := uik.ToBeSigned()
	if err != nil {
		return err
	}
	sig, err := priv.Sign(tbs)
	if err != nil {
		return err
	}
	uik.Signature = sig
	return nil
}

// Verify checks the signature against the credential's own signature key.
func (uik UserInitKey) Verify() bool {
	tbs, err := uik.ToBeSigned()
	if err != nil {
		return false
	}
	return uik.Credential.PublicKey().Verify(tbs, uik.Signature)
}

// FindInitKey returns the init key advertised for suite, if any.
func (uik UserInitKey) FindInitKey(suite CipherSuite) (DHPublicKey, bool) {
	for i, s := range uik.CipherSuites {
		if s == suite {
			return uik.InitKeys[i], true
		}
	}
	return DHPublicKey{}, false
}

// GroupOperationType tags the active arm of a GroupOperation.
type GroupOperationType uint8

const (
	GroupOperationAdd    GroupOperationType = 1
	GroupOperationUpdate GroupOperationType = 2
	GroupOperationRemove GroupOperationType = 3
)

func (t GroupOperationType) ValidForTLS() error {
	return validateEnum(t, GroupOperationAdd, GroupOperationUpdate, GroupOperationRemove)
}

// Add admits a new member at Index, carrying their UserInitKey and a hash
// of the group's WelcomeInfo as it stood before this Add (the Welcome sent
// to the joiner carries the state after it).
type Add struct {
	Index             uint32
	InitKey           UserInitKey
	WelcomeInfoHash   []byte `tls:"head=1"`
}

// UpdateOperation replaces the sender's leaf and ratchets its direct path.
type UpdateOperation struct {
	Path DirectPath
}

// RemoveOperation blanks Removed's leaf and direct path; the sender's own
// accompanying path update, carried in Path, repairs the tree around the
// blanked subtree.
type RemoveOperation struct {
	Removed uint32
	Path    DirectPath
}

// GroupOperation is a tagged union over {Add, UpdateOperation,
// RemoveOperation}, selected by GroupOperationType.
type GroupOperation struct {
	Add    *Add
	Update *UpdateOperation
	Remove *RemoveOperation
}

func (op GroupOperation) Type() GroupOperationType {
	switch {
	case op.Add != nil:
		return GroupOperationAdd
	case op.Update != nil:
		return GroupOperationUpdate
	case op.Remove != nil:
		return GroupOperationRemove
	default:
		panic(protocolErrorf("mls.messages: malformed GroupOperation"))
	}
}

func (op GroupOperation) MarshalTLS() ([]byte, error) {
	s := syntax.NewWriteStream()
	opType := op.Type()
	if err := s.Write(opType); err != nil {
		return nil, err
	}

	var err error
	switch opType {
	case GroupOperationAdd:
		err = s.Write(op.Add)
	case GroupOperationUpdate:
		err = s.Write(op.Update)
	case GroupOperationRemove:
		err = s.Write(op.Remove)
	}
	if err != nil {
		return nil, err
	}

	return s.Data(), nil
}

func (op *GroupOperation) UnmarshalTLS(data []byte) (int, error) {
	s := syntax.NewReadStream(data)
	var opType GroupOperationType
	if _, err := s.Read(&opType); err != nil {
		return 0, err
	}

	var err error
	switch opType {
	case GroupOperationAdd:
		op.Add = new(Add)
		_, err = s.Read(op.Add)
	case GroupOperationUpdate:
		op.Update = new(UpdateOperation)
		_, err = s.Read(op.Update)
	case GroupOperationRemove:
		op.Remove = new(RemoveOperation)
		_, err = s.Read(op.Remove)
	default:
		return 0, codecErrorf("mls.messages: unknown GroupOperationType %v", opType)
	}
	if err != nil {
		return 0, err
	}

	return s.Position(), nil
}

// Handshake is the signed, confirmed envelope around a GroupOperation.
type Handshake struct {
	PriorEpoch   uint32
	Operation    GroupOperation
	SignerIndex  uint32
	Signature    []byte `tls:"head=2"`
	Confirmation []byte `tls:"head=1"`
}

// ToBeSigned returns the canonical pre-image covered by Signature: the
// encoding of (prior_epoch, operation, signer_index).
func (h Handshake) ToBeSigned() ([]byte, error) {
	tbs := struct {
		PriorEpoch  uint32
		Operation   GroupOperation
		SignerIndex uint32
	}{
		PriorEpoch:  h.PriorEpoch,
		Operation:   h.Operation,
		SignerIndex: h.SignerIndex,
	}

	enc, err := syntax.Marshal(tbs)
	if err != nil {
		return nil, codecErrorf("mls.messages: failed to marshal Handshake to-be-signed: %v", err)
	}
	return enc, nil
}

func (h *Handshake) sign(priv SignaturePrivateKey) error {
	tbs, err := h.ToBeSigned()
	if err != nil {
		return err
	}
	sig, err := priv.Sign(tbs)
	if err != nil {
		return err
	}
	h.Signature = sig
	return nil
}

func (h Handshake) verifySignature(pub SignaturePublicKey) (bool, error) {
	tbs, err := h.ToBeSigned()
	if err != nil {
		return false, err
	}
	return pub.Verify(tbs, h.Signature), nil
}
