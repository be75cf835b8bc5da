package accountage

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
)

var (
	ErrMissingWitness      = errors.New("missing account age witness")
	ErrMissingPayload      = errors.New("missing payment account payload")
	ErrWitnessHashMismatch = errors.New("account age witness doesn't match payment account")
	ErrUnknownWitness      = errors.New("account age witness not registered")
	ErrWitnessDateMismatch = errors.New("account age witness date mismatch")
	ErrAccountTooYoung     = errors.New("payment account too young")
)

// WitnessHash binds the hash of a payment account to the signature key of
// its owner.
func WitnessHash(payloadHash, signaturePubKey []byte) []byte {
	return chainhash.HashB(append(append([]byte{}, payloadHash...), signaturePubKey...))
}

// Registry is the shared book of account age witnesses. The first
// registration of a witness fixes its date.
type Registry struct {
	lock      sync.RWMutex
	witnesses map[string]int64
	now       func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		witnesses: make(map[string]int64),
		now:       time.Now,
	}
}

// Register adds the witness if not yet known and returns its date in
// unix milliseconds.
func (r *Registry) Register(hash []byte) int64 {
	r.lock.Lock()
	defer r.lock.Unlock()

	key := hex.EncodeToString(hash)
	if date, ok := r.witnesses[key]; ok {
		return date
	}
	date := r.now().UnixMilli()
	r.witnesses[key] = date
	return date
}

// Backdate sets the date of the witness, used to import witnesses
// registered elsewhere.
func (r *Registry) Backdate(hash []byte, date time.Time) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.witnesses[hex.EncodeToString(hash)] = date.UnixMilli()
}

// Date returns the registration date of the witness.
func (r *Registry) Date(hash []byte) (int64, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	date, ok := r.witnesses[hex.EncodeToString(hash)]
	return date, ok
}

type service struct {
	registry *Registry
	keys     ports.KeyRing
	minAge   time.Duration
}

// NewService returns the account age witness service of the node owning
// the given keys. Peers' accounts younger than minAge are refused, zero
// disables the check.
func NewService(
	registry *Registry, keys ports.KeyRing, minAge time.Duration,
) (ports.AccountAgeWitnessService, error) {
	if registry == nil {
		return nil, fmt.Errorf("missing witness registry")
	}
	if keys == nil {
		return nil, fmt.Errorf("missing key ring")
	}
	return &service{registry, keys, minAge}, nil
}

func (s *service) SignWitness(
	_ context.Context, account domain.PaymentAccountPayload, nonce []byte,
) (*domain.AccountAgeWitness, error) {
	payloadHash, err := account.Hash()
	if err != nil {
		return nil, err
	}
	hash := WitnessHash(payloadHash, s.keys.PubKeyRing().SignaturePubKey)
	date := s.registry.Register(hash)

	sig, err := s.keys.Sign(nonce)
	if err != nil {
		return nil, err
	}
	return &domain.AccountAgeWitness{
		Hash:      hash,
		Date:      date,
		Signature: sig,
	}, nil
}

func (s *service) VerifyPeersWitness(
	_ context.Context, peer domain.Peer, nonce []byte,
) error {
	witness := peer.AccountAgeWitness
	if witness == nil {
		return ErrMissingWitness
	}
	if peer.PaymentAccountPayload == nil {
		return ErrMissingPayload
	}

	payloadHash, err := peer.PaymentAccountPayload.Hash()
	if err != nil {
		return err
	}
	hash := WitnessHash(payloadHash, peer.PubKeyRing.SignaturePubKey)
	if !bytes.Equal(hash, witness.Hash) {
		return ErrWitnessHashMismatch
	}
	date, ok := s.registry.Date(hash)
	if !ok {
		return ErrUnknownWitness
	}
	if date != witness.Date {
		return ErrWitnessDateMismatch
	}
	if s.minAge > 0 {
		if age := s.registry.now().Sub(time.UnixMilli(date)); age < s.minAge {
			return fmt.Errorf("%w: %s old", ErrAccountTooYoung, age.Round(time.Second))
		}
	}
	return s.keys.Verify(peer.PubKeyRing, nonce, witness.Signature)
}
