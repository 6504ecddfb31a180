package crypto

import (
	"bytes"
	"errors"

	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/fxamacker/cbor/v2"

	"github.com/TaahirSaif/BLEEP-V1-sub001/crypto/address"
)

type publicKey struct {
	pubKey *mldsa44.PublicKey
}

func NewPublicKey(pubKey *mldsa44.PublicKey) PublicKey {
	return &publicKey{pubKey: pubKey}
}

// PublicKeyFromBytes parses a packed ML-DSA-44 public key, the form carried
// in checkpoint signatures and slashing records.
func PublicKeyFromBytes(raw []byte) (PublicKey, error) {
	if len(raw) != mldsa44.PublicKeySize {
		return nil, errors.New("invalid public key length")
	}
	pub := new(mldsa44.PublicKey)
	if err := pub.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return &publicKey{pubKey: pub}, nil
}

func (p *publicKey) Bytes() []byte {
	return p.pubKey.Bytes()
}

func (p *publicKey) Address() (*address.Address, error) {
	return address.New(p.pubKey)
}

func (p *publicKey) Verify(data []byte, sig Signature) error {
	if sig == nil {
		return errors.New("signature cannot be nil")
	}
	if !mldsa44.Verify(p.pubKey, data, nil, sig.Bytes()) {
		return errors.New("invalid signature")
	}
	return nil
}

func (p *publicKey) Marshal() ([]byte, error) {
	raw, err := p.pubKey.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(raw)
}

func (p *publicKey) Unmarshal(data []byte) error {
	var raw []byte
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return err
	}
	if p.pubKey == nil {
		p.pubKey = new(mldsa44.PublicKey)
	}
	return p.pubKey.UnmarshalBinary(raw)
}

func (p *publicKey) Equal(other PublicKey) bool {
	if other == nil {
		return false
	}
	return bytes.Equal(p.Bytes(), other.Bytes())
}
