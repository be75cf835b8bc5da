package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument marks failures caused by malformed or inconsistent
	// input. Such failures are never retried.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidStateTransition is returned when moving a trade to a state not
	// reachable from the current one.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrPeerIdentityMismatch is returned when two messages claim different
	// identities for the same peer.
	ErrPeerIdentityMismatch = errors.New("peer identity mismatch")
	// ErrMultisigMismatch is returned when a peer sends a multisig blob that
	// differs from the one already received for the same stage.
	ErrMultisigMismatch = errors.New("multisig material mismatch")
	// ErrContractMismatch is returned when a peer signed a contract different
	// from the one computed locally.
	ErrContractMismatch = errors.New("contract mismatch")
	// ErrMissingContractData is returned when the contract can't be built yet.
	ErrMissingContractData = errors.New("missing data to build contract")
	// ErrTradeFailed is returned when attempting to progress a failed trade.
	ErrTradeFailed = errors.New("trade has failed")
	// ErrTradeNotFound is returned by repositories for unknown trade ids.
	ErrTradeNotFound = errors.New("trade not found")
	// ErrTradeAlreadyExists is returned by repositories when adding a trade
	// with an id already in use.
	ErrTradeAlreadyExists = errors.New("trade already exists")
	// ErrUnknownMessageType is returned when decoding an unsupported message.
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrUnsupportedProtocolVersion is returned when decoding a message with a
	// protocol version this node doesn't speak.
	ErrUnsupportedProtocolVersion = errors.New("unsupported protocol version")
	// ErrUnknownPaymentMethod is returned for payment method ids missing from
	// the payment method table.
	ErrUnknownPaymentMethod = errors.New("unknown payment method")
	// ErrInvalidTradeAmount is returned for amounts outside of the offer or
	// payment method bounds.
	ErrInvalidTradeAmount = errors.New("invalid trade amount")
)

// NewInvalidArgumentError returns an error wrapping ErrInvalidArgument.
func NewInvalidArgumentError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// IsInvalidArgument returns whether err is an invalid argument error.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}
