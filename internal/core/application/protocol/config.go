package protocol

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
)

var (
	// ErrPreconditionFailed is returned when a message or action is not
	// expected in the current trade state.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrPipelineTimeout is returned when a pipeline doesn't complete in time.
	ErrPipelineTimeout = errors.New("pipeline timed out")
	// ErrUnsupportedOperation is returned when the local role doesn't
	// handle the requested message or action.
	ErrUnsupportedOperation = errors.New("operation not supported by role")
	// ErrMissingService is returned by NewTradeProtocol for incomplete
	// service sets.
	ErrMissingService = errors.New("missing service")
)

const (
	DefaultPipelineTimeout      = 60 * time.Second
	DefaultResendInitialDelay   = 5 * time.Second
	DefaultResendBaseDelay      = 30 * time.Second
	DefaultResendFactor         = 2.0
	DefaultMaxResendAttempts    = 10
	DefaultReprocessBaseDelay   = 5 * time.Second
	DefaultMaxReprocessAttempts = 5
)

// Config holds the tunables of the protocol.
type Config struct {
	PipelineTimeout      time.Duration
	ResendInitialDelay   time.Duration
	ResendBaseDelay      time.Duration
	ResendFactor         float64
	MaxResendAttempts    int
	ReprocessBaseDelay   time.Duration
	MaxReprocessAttempts int
}

// DefaultConfig returns the default protocol config.
func DefaultConfig() Config {
	return Config{
		PipelineTimeout:      DefaultPipelineTimeout,
		ResendInitialDelay:   DefaultResendInitialDelay,
		ResendBaseDelay:      DefaultResendBaseDelay,
		ResendFactor:         DefaultResendFactor,
		MaxResendAttempts:    DefaultMaxResendAttempts,
		ReprocessBaseDelay:   DefaultReprocessBaseDelay,
		MaxReprocessAttempts: DefaultMaxReprocessAttempts,
	}
}

// Validate checks the config values.
func (c Config) Validate() error {
	if c.PipelineTimeout < 0 {
		return fmt.Errorf("pipeline timeout must not be negative")
	}
	if c.ResendInitialDelay <= 0 || c.ResendBaseDelay <= 0 {
		return fmt.Errorf("resend delays must be positive")
	}
	if c.ResendInitialDelay > c.ResendBaseDelay {
		return fmt.Errorf("resend initial delay must not exceed base delay")
	}
	if c.ResendFactor < 1 {
		return fmt.Errorf("resend factor must be at least 1")
	}
	if c.MaxResendAttempts < 0 || c.MaxReprocessAttempts < 0 {
		return fmt.Errorf("max attempts must not be negative")
	}
	if c.ReprocessBaseDelay <= 0 {
		return fmt.Errorf("reprocess delay must be positive")
	}
	return nil
}

// Services are the collaborators of a trade protocol. They are resolved
// once when the protocol is created and never persisted.
type Services struct {
	Wallet         ports.WalletService
	P2P            ports.P2PService
	KeyRing        ports.KeyRing
	Arbitrators    ports.ArbitratorRegistry
	AccountAge     ports.AccountAgeWitnessService
	Repository     domain.TradeRepository
	PaymentMethods *domain.PaymentMethods
	// WalletLock serializes wallet operations spanning multiple trades.
	WalletLock sync.Locker
	// OnTradeUpdated, if defined, is called with a copy of the trade after
	// every persisted change.
	OnTradeUpdated func(trade domain.Trade)
}

// Validate checks that every required collaborator is set.
func (s Services) Validate() error {
	switch {
	case s.Wallet == nil:
		return fmt.Errorf("%w: wallet", ErrMissingService)
	case s.P2P == nil:
		return fmt.Errorf("%w: p2p", ErrMissingService)
	case s.KeyRing == nil:
		return fmt.Errorf("%w: key ring", ErrMissingService)
	case s.Arbitrators == nil:
		return fmt.Errorf("%w: arbitrator registry", ErrMissingService)
	case s.AccountAge == nil:
		return fmt.Errorf("%w: account age witness", ErrMissingService)
	case s.Repository == nil:
		return fmt.Errorf("%w: trade repository", ErrMissingService)
	case s.PaymentMethods == nil:
		return fmt.Errorf("%w: payment methods", ErrMissingService)
	case s.WalletLock == nil:
		return fmt.Errorf("%w: wallet lock", ErrMissingService)
	}
	return nil
}
