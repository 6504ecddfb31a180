package crypto

import "github.com/TaahirSaif/BLEEP-V1-sub001/crypto/address"

type PrivateKey interface {
	Bytes() []byte
	Sign(msg []byte) (Signature, error)
	PublicKey() PublicKey
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
	Equal(other PrivateKey) bool
}

type PublicKey interface {
	Bytes() []byte
	Address() (*address.Address, error)
	Verify(data []byte, sig Signature) error
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
	Equal(other PublicKey) bool
}

type Signature interface {
	Bytes() []byte
	Verify(pubKey PublicKey, data []byte) error
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
	Equal(other Signature) bool
}
