package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TaahirSaif/BLEEP-V1-sub001/crypto/address"
)

func TestSignVerify(t *testing.T) {
	priv, err := NewPrivateKey()
	require.NoError(t, err)
	pub := priv.PublicKey()
	message := []byte("checkpoint hash to sign")

	sig, err := priv.Sign(message)
	require.NoError(t, err)

	t.Run("valid signature verifies", func(t *testing.T) {
		assert.NoError(t, pub.Verify(message, sig))
		assert.NoError(t, sig.Verify(pub, message))
	})

	t.Run("wrong message fails", func(t *testing.T) {
		assert.Error(t, pub.Verify([]byte("some other message"), sig))
	})

	t.Run("wrong key fails", func(t *testing.T) {
		other, err := NewPrivateKey()
		require.NoError(t, err)
		assert.Error(t, other.PublicKey().Verify(message, sig))
	})

	t.Run("nil signature rejected", func(t *testing.T) {
		assert.Error(t, pub.Verify(message, nil))
	})
}

func TestPublicKeyFromBytes(t *testing.T) {
	priv, err := NewPrivateKey()
	require.NoError(t, err)
	pub := priv.PublicKey()

	parsed, err := PublicKeyFromBytes(pub.Bytes())
	require.NoError(t, err)
	assert.True(t, parsed.Equal(pub))

	t.Run("truncated key rejected", func(t *testing.T) {
		_, err := PublicKeyFromBytes(pub.Bytes()[:10])
		assert.Error(t, err)
	})

	t.Run("parsed key verifies signatures", func(t *testing.T) {
		sig, err := priv.Sign([]byte("msg"))
		require.NoError(t, err)
		assert.NoError(t, parsed.Verify([]byte("msg"), sig))
	})
}

func TestKeyMarshalRoundTrip(t *testing.T) {
	priv, err := NewPrivateKey()
	require.NoError(t, err)

	data, err := priv.Marshal()
	require.NoError(t, err)

	restored := &privateKey{}
	require.NoError(t, restored.Unmarshal(data))
	assert.True(t, restored.Equal(priv))

	t.Run("restored key signs for the same public key", func(t *testing.T) {
		sig, err := restored.Sign([]byte("msg"))
		require.NoError(t, err)
		assert.NoError(t, priv.PublicKey().Verify([]byte("msg"), sig))
	})
}

func TestAddressDerivation(t *testing.T) {
	priv, err := NewPrivateKey()
	require.NoError(t, err)

	addr, err := priv.PublicKey().Address()
	require.NoError(t, err)
	assert.True(t, address.Validate(addr.String()))

	t.Run("deterministic for the same key", func(t *testing.T) {
		again, err := priv.PublicKey().Address()
		require.NoError(t, err)
		assert.Equal(t, addr.String(), again.String())
	})

	t.Run("distinct keys get distinct addresses", func(t *testing.T) {
		other, err := NewPrivateKey()
		require.NoError(t, err)
		otherAddr, err := other.PublicKey().Address()
		require.NoError(t, err)
		assert.NotEqual(t, addr.String(), otherAddr.String())
	})
}
