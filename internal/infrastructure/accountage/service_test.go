package accountage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/accountage"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/keyring"
)

var (
	account = domain.PaymentAccountPayload{
		ID:              "account",
		PaymentMethodID: "SEPA",
		Data:            map[string]string{"iban": "DE89370400440532013000"},
		Salt:            []byte("salt"),
	}
	nonce = []byte("trade nonce")
)

func TestAccountAgeWitness(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := accountage.NewRegistry()

	sellerKeys, err := keyring.NewKeyRing()
	require.NoError(t, err)
	buyerKeys, err := keyring.NewKeyRing()
	require.NoError(t, err)

	seller, err := accountage.NewService(registry, sellerKeys, 0)
	require.NoError(t, err)
	buyer, err := accountage.NewService(registry, buyerKeys, 0)
	require.NoError(t, err)

	witness, err := seller.SignWitness(ctx, account, nonce)
	require.NoError(t, err)

	// Signing again keeps the date of the first registration.
	again, err := seller.SignWitness(ctx, account, []byte("another nonce"))
	require.NoError(t, err)
	require.Equal(t, witness.Date, again.Date)
	require.Equal(t, witness.Hash, again.Hash)

	otherAccount := account
	otherAccount.ID = "other"

	tests := []struct {
		name        string
		peer        func() domain.Peer
		expectedErr error
	}{
		{
			name: "valid",
			peer: func() domain.Peer {
				return sellerPeer(sellerKeys.PubKeyRing(), &account, witness)
			},
		},
		{
			name: "missing witness",
			peer: func() domain.Peer {
				return sellerPeer(sellerKeys.PubKeyRing(), &account, nil)
			},
			expectedErr: accountage.ErrMissingWitness,
		},
		{
			name: "other payment account",
			peer: func() domain.Peer {
				return sellerPeer(sellerKeys.PubKeyRing(), &otherAccount, witness)
			},
			expectedErr: accountage.ErrWitnessHashMismatch,
		},
		{
			name: "witness of another signer",
			peer: func() domain.Peer {
				return sellerPeer(buyerKeys.PubKeyRing(), &account, witness)
			},
			expectedErr: accountage.ErrWitnessHashMismatch,
		},
		{
			name: "forged date",
			peer: func() domain.Peer {
				w := *witness
				w.Date -= int64(time.Hour / time.Millisecond)
				return sellerPeer(sellerKeys.PubKeyRing(), &account, &w)
			},
			expectedErr: accountage.ErrWitnessDateMismatch,
		},
		{
			name: "signature over another nonce",
			peer: func() domain.Peer {
				return sellerPeer(sellerKeys.PubKeyRing(), &account, again)
			},
			expectedErr: keyring.ErrInvalidSignature,
		},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := buyer.VerifyPeersWitness(ctx, tt.peer(), nonce)
			if tt.expectedErr == nil {
				require.NoError(t, err)
				return
			}
			require.True(t, errors.Is(err, tt.expectedErr), err)
		})
	}
}

func TestMinAccountAge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := accountage.NewRegistry()
	sellerKeys, err := keyring.NewKeyRing()
	require.NoError(t, err)
	buyerKeys, err := keyring.NewKeyRing()
	require.NoError(t, err)

	seller, err := accountage.NewService(registry, sellerKeys, 0)
	require.NoError(t, err)
	buyer, err := accountage.NewService(registry, buyerKeys, 24*time.Hour)
	require.NoError(t, err)

	witness, err := seller.SignWitness(ctx, account, nonce)
	require.NoError(t, err)
	peer := sellerPeer(sellerKeys.PubKeyRing(), &account, witness)

	err = buyer.VerifyPeersWitness(ctx, peer, nonce)
	require.True(t, errors.Is(err, accountage.ErrAccountTooYoung))

	registry.Backdate(witness.Hash, time.Now().Add(-48*time.Hour))
	witness, err = seller.SignWitness(ctx, account, nonce)
	require.NoError(t, err)
	peer = sellerPeer(sellerKeys.PubKeyRing(), &account, witness)
	require.NoError(t, buyer.VerifyPeersWitness(ctx, peer, nonce))
}

func sellerPeer(
	ring domain.PubKeyRing, payload *domain.PaymentAccountPayload,
	witness *domain.AccountAgeWitness,
) domain.Peer {
	return domain.Peer{
		PubKeyRing:            ring,
		PaymentAccountPayload: payload,
		AccountAgeWitness:     witness,
	}
}
