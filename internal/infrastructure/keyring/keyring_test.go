package keyring_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/keyring"
)

func TestSignAndVerify(t *testing.T) {
	t.Parallel()

	alice, err := keyring.NewKeyRing()
	require.NoError(t, err)
	bob, err := keyring.NewKeyRing()
	require.NoError(t, err)

	data := []byte("contract")
	sig, err := alice.Sign(data)
	require.NoError(t, err)

	tests := []struct {
		name        string
		ring        domain.PubKeyRing
		data        []byte
		sig         []byte
		expectedErr error
	}{
		{"valid", alice.PubKeyRing(), data, sig, nil},
		{"wrong signer", bob.PubKeyRing(), data, sig, keyring.ErrInvalidSignature},
		{"wrong data", alice.PubKeyRing(), []byte("other"), sig, keyring.ErrInvalidSignature},
		{"malformed signature", alice.PubKeyRing(), data, []byte{0x30}, keyring.ErrInvalidSignature},
		{"malformed pubkey", domain.PubKeyRing{SignaturePubKey: []byte{2}}, data, sig, keyring.ErrInvalidSignature},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := bob.Verify(tt.ring, tt.data, tt.sig)
			if tt.expectedErr == nil {
				require.NoError(t, err)
				return
			}
			require.True(t, errors.Is(err, tt.expectedErr))
		})
	}
}

func TestKeyRingFromSeed(t *testing.T) {
	t.Parallel()

	seed := bytes.Repeat([]byte{7}, 32)
	k1, err := keyring.NewKeyRingFromSeed(seed)
	require.NoError(t, err)
	k2, err := keyring.NewKeyRingFromSeed(seed)
	require.NoError(t, err)
	require.True(t, k1.PubKeyRing().Equal(k2.PubKeyRing()))
	require.NotEqual(t, k1.PubKeyRing().SignaturePubKey, k1.PubKeyRing().EncryptionPubKey)

	_, err = keyring.NewKeyRingFromSeed([]byte{1})
	require.Error(t, err)
}

func TestArbitratorRegistry(t *testing.T) {
	t.Parallel()

	registry := keyring.NewArbitratorRegistry()
	k, err := keyring.NewKeyRing()
	require.NoError(t, err)

	_, err = registry.GetArbitrator("arbitrator:9999")
	require.True(t, errors.Is(err, keyring.ErrUnknownArbitrator))

	registry.RegisterArbitrator("arbitrator:9999", k.PubKeyRing())
	ring, err := registry.GetArbitrator("arbitrator:9999")
	require.NoError(t, err)
	require.True(t, ring.Equal(k.PubKeyRing()))
	require.Len(t, registry.ListArbitrators(), 1)
}
