package address

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	mldsa "github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/fxamacker/cbor/v2"

	"github.com/TaahirSaif/BLEEP-V1-sub001/crypto/hash"
)

const (
	// AddressWords is the number of 5-bit words in the data part: 20 hash
	// bytes, 160 bits / 5.
	AddressWords = 32
	AddressHRP   = "bleep"
)

// Address holds the 5-bit words of a bech32 validator address.
type Address [AddressWords]byte

// New derives an address from a validator public key: first 20 bytes of the
// SHA-256 of the key, bech32 encoded.
func New(pubKey *mldsa.PublicKey) (*Address, error) {
	h := hash.NewHash(pubKey.Bytes())
	words, err := bech32.ConvertBits(h[:20], 8, 5, true)
	if err != nil {
		return nil, fmt.Errorf("failed to convert key hash to 5-bit words: %v", err)
	}
	if len(words) != AddressWords {
		return nil, fmt.Errorf("unexpected word count: got %d, want %d", len(words), AddressWords)
	}
	var addr Address
	copy(addr[:], words)
	return &addr, nil
}

// Validate checks a string is a well-formed validator address.
func Validate(addr string) bool {
	hrp, words, err := bech32.Decode(addr)
	if err != nil {
		return false
	}
	return hrp == AddressHRP && len(words) == AddressWords
}

// FromString decodes a bech32 validator address.
func FromString(addr string) (*Address, error) {
	hrp, words, err := bech32.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode address %q: %v", addr, err)
	}
	if hrp != AddressHRP {
		return nil, fmt.Errorf("invalid address HRP: expected %q, got %q", AddressHRP, hrp)
	}
	if len(words) != AddressWords {
		return nil, fmt.Errorf("invalid address data length: expected %d words, got %d", AddressWords, len(words))
	}
	var a Address
	copy(a[:], words)
	return &a, nil
}

func (a *Address) Bytes() []byte {
	return a[:]
}

func (a *Address) String() string {
	encoded, err := bech32.Encode(AddressHRP, a[:])
	if err != nil {
		return ""
	}
	return encoded
}

func (a *Address) Marshal() ([]byte, error) {
	return cbor.Marshal(a[:])
}

func (a *Address) Unmarshal(data []byte) error {
	var slice []byte
	if err := cbor.Unmarshal(data, &slice); err != nil {
		return err
	}
	if len(slice) != AddressWords {
		return fmt.Errorf("unmarshaled address has length %d, want %d", len(slice), AddressWords)
	}
	copy(a[:], slice)
	return nil
}

func (a *Address) Compare(other Address) bool {
	return bytes.Equal(a[:], other[:])
}
