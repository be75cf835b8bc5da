package domain_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

func TestPeerWithMultisig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                    string
		peer                    domain.Peer
		prepared, made, exchged string
		expectedError           error
		expectedPrepared        string
		expectedMade            string
	}{
		{
			name:             "merge_into_empty",
			peer:             domain.Peer{},
			prepared:         "p",
			made:             "m",
			expectedPrepared: "p",
			expectedMade:     "m",
		},
		{
			name:             "same_blob_twice",
			peer:             domain.Peer{PreparedMultisigHex: "p"},
			prepared:         "p",
			expectedPrepared: "p",
		},
		{
			name:             "empty_fields_ignored",
			peer:             domain.Peer{PreparedMultisigHex: "p"},
			made:             "m",
			expectedPrepared: "p",
			expectedMade:     "m",
		},
		{
			name:          "prepared_mismatch",
			peer:          domain.Peer{PreparedMultisigHex: "p"},
			prepared:      "other",
			expectedError: domain.ErrMultisigMismatch,
		},
		{
			name:          "exchanged_mismatch",
			peer:          domain.Peer{ExchangedMultisigHex: "x"},
			exchged:       "other",
			expectedError: domain.ErrMultisigMismatch,
		},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := tt.peer.WithMultisig(tt.prepared, tt.made, tt.exchged)
			if tt.expectedError != nil {
				require.ErrorIs(t, err, tt.expectedError)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expectedPrepared, p.PreparedMultisigHex)
			require.Equal(t, tt.expectedMade, p.MadeMultisigHex)
		})
	}
}

func TestPeerWithIdentity(t *testing.T) {
	t.Parallel()

	ring := randomPubKeyRing()
	p, err := domain.Peer{}.WithIdentity("a:1", ring)
	require.NoError(t, err)

	p, err = p.WithIdentity("", domain.PubKeyRing{})
	require.NoError(t, err)
	require.Equal(t, domain.NodeAddress("a:1"), p.NodeAddress)
	require.True(t, ring.Equal(p.PubKeyRing))

	_, err = p.WithIdentity("a:1", randomPubKeyRing())
	require.ErrorIs(t, err, domain.ErrPeerIdentityMismatch)
}

func TestPeerSnapshotsAreIndependent(t *testing.T) {
	t.Parallel()

	original := domain.Peer{ContractSignature: []byte{1, 2, 3}}
	updated := original.WithAck(domain.MsgDepositsConfirmed, domain.AckState{Acked: true})
	updated.ContractSignature[0] = 9

	require.False(t, original.IsAcked(domain.MsgDepositsConfirmed))
	require.True(t, updated.IsAcked(domain.MsgDepositsConfirmed))
	require.Equal(t, byte(1), original.ContractSignature[0])
}
