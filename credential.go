package mls

import (
	"reflect"

	syntax "github.com/cisco/go-tls-syntax"
)

type CredentialType uint8

const (
	CredentialTypeBasic   CredentialType = 0
	CredentialTypeInvalid CredentialType = 255
)

func (ct CredentialType) ValidForTLS() error {
	return validateEnum(ct, CredentialTypeBasic)
}

// struct {
//     opaque identity<0..2^16-1>;
//     SignatureScheme algorithm;
//     SignaturePublicKey public_key;
// } BasicCredential;
type BasicCredential struct {
	Identity        []byte `tls:"head=2"`
	SignatureScheme SignatureScheme
	PublicKey       SignaturePublicKey
}

// Credential is a tagged union over identity-binding variants. Only the
// Basic variant is supported: (user_id bytes, SignaturePublicKey). The
// signature public key inside a credential is the one that signs any
// message attributed to that identity.
//
//	struct {
//		CredentialType credential_type;
//		select (Credential.credential_type) {
//			case basic:
//				BasicCredential;
//		};
//	} Credential;
type Credential struct {
	Basic *BasicCredential
}

func NewBasicCredential(userID []byte, scheme SignatureScheme, pub SignaturePublicKey) Credential {
	return Credential{
		Basic: &BasicCredential{
			Identity:        dup(userID),
			SignatureScheme: scheme,
			PublicKey:       pub,
		},
	}
}

func (c Credential) Type() CredentialType {
	if c.Basic == nil {
		panic(protocolErrorf("mls.credential: malformed credential"))
	}
	return CredentialTypeBasic
}

func (c Credential) Identity() []byte {
	if c.Basic == nil {
		panic(protocolErrorf("mls.credential: malformed credential"))
	}
	return c.Basic.Identity
}

func (c Credential) Scheme() SignatureScheme {
	if c.Basic == nil {
		panic(protocolErrorf("mls.credential: malformed credential"))
	}
	return c.Basic.SignatureScheme
}

func (c Credential) PublicKey() SignaturePublicKey {
	if c.Basic == nil {
		panic(protocolErrorf("mls.credential: malformed credential"))
	}
	return c.Basic.PublicKey
}

// Equals compares the public aspects of two credentials.
func (c Credential) Equals(o Credential) bool {
	if c.Basic == nil || o.Basic == nil {
		return c.Basic == nil && o.Basic == nil
	}
	return reflect.DeepEqual(c.Basic, o.Basic)
}

func (c Credential) MarshalTLS() ([]byte, error) {
	if c.Basic == nil {
		return nil, protocolErrorf("mls.credential: cannot marshal malformed credential")
	}

	s := syntax.NewWriteStream()
	if err := s.Write(CredentialTypeBasic); err != nil {
		return nil, err
	}
	if err := s.Write(c.Basic); err != nil {
		return nil, err
	}
	return s.Data(), nil
}

func (c *Credential) UnmarshalTLS(data []byte) (int, error) {
	s := syntax.NewReadStream(data)
	var credentialType CredentialType
	if _, err := s.Read(&credentialType); err != nil {
		return 0, codecErrorf("mls.credential: %v", err)
	}

	switch credentialType {
	case CredentialTypeBasic:
		c.Basic = new(BasicCredential)
		if _, err := s.Read(c.Basic); err != nil {
			return 0, err
		}
		c.Basic.PublicKey.Scheme = c.Basic.SignatureScheme
	default:
		return 0, codecErrorf("mls.credential: unsupported credential type %v", credentialType)
	}

	return s.Position(), nil
}
