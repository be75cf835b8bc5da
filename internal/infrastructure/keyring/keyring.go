package keyring

import (
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
)

var (
	// ErrInvalidSignature is returned when a signature doesn't match the
	// signed data or the signer key.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrUnknownArbitrator is returned for arbitrators missing from the
	// registry.
	ErrUnknownArbitrator = errors.New("unknown arbitrator")
)

type keyRing struct {
	signingKey    *btcec.PrivateKey
	encryptionKey *btcec.PrivateKey
}

// NewKeyRing returns a key ring with new random keys.
func NewKeyRing() (ports.KeyRing, error) {
	signingKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	encryptionKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &keyRing{signingKey, encryptionKey}, nil
}

// NewKeyRingFromSeed derives the key ring from a 32-byte seed.
func NewKeyRingFromSeed(seed []byte) (ports.KeyRing, error) {
	if len(seed) != 32 {
		return nil, fmt.Errorf("seed must be 32 bytes, got %d", len(seed))
	}
	signingKey, _ := btcec.PrivKeyFromBytes(deriveKey("sign", seed))
	encryptionKey, _ := btcec.PrivKeyFromBytes(deriveKey("encrypt", seed))
	return &keyRing{signingKey, encryptionKey}, nil
}

func deriveKey(tag string, seed []byte) []byte {
	return chainhash.HashB(append([]byte(tag), seed...))
}

func (k *keyRing) PubKeyRing() domain.PubKeyRing {
	return domain.PubKeyRing{
		SignaturePubKey:  k.signingKey.PubKey().SerializeCompressed(),
		EncryptionPubKey: k.encryptionKey.PubKey().SerializeCompressed(),
	}
}

// Sign returns the DER signature of the sha256 of data.
func (k *keyRing) Sign(data []byte) ([]byte, error) {
	sig := ecdsa.Sign(k.signingKey, chainhash.HashB(data))
	return sig.Serialize(), nil
}

func (k *keyRing) Verify(ring domain.PubKeyRing, data, sig []byte) error {
	return Verify(ring, data, sig)
}

// Verify checks sig against the signature pubkey of the ring.
func Verify(ring domain.PubKeyRing, data, sig []byte) error {
	pubKey, err := btcec.ParsePubKey(ring.SignaturePubKey)
	if err != nil {
		return fmt.Errorf("%w: malformed pubkey: %s", ErrInvalidSignature, err)
	}
	signature, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return fmt.Errorf("%w: malformed signature: %s", ErrInvalidSignature, err)
	}
	if !signature.Verify(chainhash.HashB(data), pubKey) {
		return ErrInvalidSignature
	}
	return nil
}

type arbitratorRegistry struct {
	lock        sync.RWMutex
	arbitrators map[domain.NodeAddress]domain.PubKeyRing
}

// ArbitratorRegistry is the registry of the arbitrators accepted by the
// local node.
type ArbitratorRegistry interface {
	ports.ArbitratorRegistry
	RegisterArbitrator(addr domain.NodeAddress, ring domain.PubKeyRing)
	ListArbitrators() []domain.NodeAddress
}

// NewArbitratorRegistry returns an empty registry.
func NewArbitratorRegistry() ArbitratorRegistry {
	return &arbitratorRegistry{
		arbitrators: make(map[domain.NodeAddress]domain.PubKeyRing),
	}
}

func (r *arbitratorRegistry) RegisterArbitrator(
	addr domain.NodeAddress, ring domain.PubKeyRing,
) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.arbitrators[addr] = ring
}

func (r *arbitratorRegistry) GetArbitrator(
	addr domain.NodeAddress,
) (domain.PubKeyRing, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	ring, ok := r.arbitrators[addr]
	if !ok {
		return domain.PubKeyRing{}, fmt.Errorf("%w: %s", ErrUnknownArbitrator, addr)
	}
	return ring, nil
}

func (r *arbitratorRegistry) ListArbitrators() []domain.NodeAddress {
	r.lock.RLock()
	defer r.lock.RUnlock()

	addrs := make([]domain.NodeAddress, 0, len(r.arbitrators))
	for addr := range r.arbitrators {
		addrs = append(addrs, addr)
	}
	return addrs
}
