package ports

import "github.com/tdex-network/tdex-escrow/internal/core/domain"

// KeyRing holds the identity keys of the local node.
type KeyRing interface {
	PubKeyRing() domain.PubKeyRing
	Sign(data []byte) ([]byte, error)
	// Verify checks that sig is a valid signature of data made with the
	// signature key of the given ring.
	Verify(ring domain.PubKeyRing, data, sig []byte) error
}

// ArbitratorRegistry resolves registered arbitrators.
type ArbitratorRegistry interface {
	GetArbitrator(addr domain.NodeAddress) (domain.PubKeyRing, error)
}
