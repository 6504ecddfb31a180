package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const HashSize = 32

type Hash [HashSize]byte

// NewHash hashes data with SHA-256, the protocol hash for checkpoint,
// transaction and operation ids.
func NewHash(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

func FromString(str string) (Hash, error) {
	data, err := hex.DecodeString(str)
	if err != nil {
		return Hash{}, err
	}
	return FromBytes(data)
}

func FromBytes(data []byte) (Hash, error) {
	if len(data) != HashSize {
		return Hash{}, fmt.Errorf("hash should be %d bytes, but it is %d bytes", HashSize, len(data))
	}
	var h Hash
	copy(h[:], data)
	return h, nil
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) Bytes() []byte {
	return h[:]
}
