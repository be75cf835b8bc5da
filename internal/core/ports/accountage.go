package ports

import (
	"context"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

// AccountAgeWitnessService proves and verifies the age of payment accounts.
type AccountAgeWitnessService interface {
	// SignWitness returns the witness of the payment account signed over
	// the given nonce.
	SignWitness(
		ctx context.Context, account domain.PaymentAccountPayload, nonce []byte,
	) (*domain.AccountAgeWitness, error)
	// VerifyPeersWitness checks the witness of the peer against its
	// decrypted payment account payload.
	VerifyPeersWitness(
		ctx context.Context, peer domain.Peer, nonce []byte,
	) error
}
