package failover

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	"github.com/tdex-network/tdex-escrow/pkg/circuitbreaker"
)

// ErrNoBackendAvailable is returned when every wallet backend failed or
// has its circuit open.
var ErrNoBackendAvailable = errors.New("no wallet backend available")

type backend struct {
	wallet ports.WalletService
	cb     *gobreaker.CircuitBreaker
}

// callResult carries errors that must not count as backend failures, like
// invalid arguments.
type callResult struct {
	value interface{}
	err   error
}

type service struct {
	backends []backend
}

// NewService returns a WalletService that forwards every call to the first
// healthy backend, in the given order. Each backend is guarded by its own
// circuit breaker, failed calls are retried against the next backend.
func NewService(wallets ...ports.WalletService) (ports.WalletService, error) {
	if len(wallets) == 0 {
		return nil, fmt.Errorf("missing wallet backends")
	}
	backends := make([]backend, 0, len(wallets))
	for i, w := range wallets {
		backends = append(backends, backend{
			wallet: w,
			cb:     circuitbreaker.NewCircuitBreaker(fmt.Sprintf("wallet-%d", i)),
		})
	}
	return &service{backends}, nil
}

func (s *service) CreateReserveTx(
	ctx context.Context, tradeID string, amount uint64,
) (domain.TxRef, error) {
	v, err := s.call(ctx, "CreateReserveTx", func(w ports.WalletService) (interface{}, error) {
		return w.CreateReserveTx(ctx, tradeID, amount)
	})
	if err != nil {
		return domain.TxRef{}, err
	}
	return v.(domain.TxRef), nil
}

func (s *service) VerifyReserveTx(
	ctx context.Context, tradeID string, tx domain.TxRef, amount uint64,
) error {
	_, err := s.call(ctx, "VerifyReserveTx", func(w ports.WalletService) (interface{}, error) {
		return nil, w.VerifyReserveTx(ctx, tradeID, tx, amount)
	})
	return err
}

func (s *service) CreateDepositTx(
	ctx context.Context, tradeID, multisigAddress string, amount uint64,
) (domain.TxRef, error) {
	v, err := s.call(ctx, "CreateDepositTx", func(w ports.WalletService) (interface{}, error) {
		return w.CreateDepositTx(ctx, tradeID, multisigAddress, amount)
	})
	if err != nil {
		return domain.TxRef{}, err
	}
	return v.(domain.TxRef), nil
}

func (s *service) VerifyDepositTx(
	ctx context.Context, tradeID, multisigAddress string,
	tx domain.TxRef, amount uint64,
) (*ports.DepositInfo, error) {
	v, err := s.call(ctx, "VerifyDepositTx", func(w ports.WalletService) (interface{}, error) {
		return w.VerifyDepositTx(ctx, tradeID, multisigAddress, tx, amount)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ports.DepositInfo), nil
}

func (s *service) SubmitTxToPool(ctx context.Context, txHex string) (string, error) {
	v, err := s.call(ctx, "SubmitTxToPool", func(w ports.WalletService) (interface{}, error) {
		return w.SubmitTxToPool(ctx, txHex)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *service) RelayTxs(ctx context.Context, txHashes []string) error {
	_, err := s.call(ctx, "RelayTxs", func(w ports.WalletService) (interface{}, error) {
		return nil, w.RelayTxs(ctx, txHashes)
	})
	return err
}

func (s *service) FlushTxPool(ctx context.Context, txHashes []string) error {
	_, err := s.call(ctx, "FlushTxPool", func(w ports.WalletService) (interface{}, error) {
		return nil, w.FlushTxPool(ctx, txHashes)
	})
	return err
}

func (s *service) GetTxConfirmations(ctx context.Context, txHash string) (uint64, error) {
	v, err := s.call(ctx, "GetTxConfirmations", func(w ports.WalletService) (interface{}, error) {
		return w.GetTxConfirmations(ctx, txHash)
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

func (s *service) GetNewAddress(ctx context.Context) (string, error) {
	v, err := s.call(ctx, "GetNewAddress", func(w ports.WalletService) (interface{}, error) {
		return w.GetNewAddress(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *service) OpenMultisigWallet(
	ctx context.Context, tradeID string,
) (ports.MultisigWallet, error) {
	v, err := s.call(ctx, "OpenMultisigWallet", func(w ports.WalletService) (interface{}, error) {
		return w.OpenMultisigWallet(ctx, tradeID)
	})
	if err != nil {
		return nil, err
	}
	return v.(ports.MultisigWallet), nil
}

func (s *service) Close() {
	for _, b := range s.backends {
		b.wallet.Close()
	}
}

// call runs fn against the backends in order until one succeeds. Invalid
// argument errors are returned right away without tripping the breaker.
func (s *service) call(
	ctx context.Context, method string,
	fn func(w ports.WalletService) (interface{}, error),
) (interface{}, error) {
	var lastErr error
	for i, b := range s.backends {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := b.cb.Execute(func() (interface{}, error) {
			v, err := fn(b.wallet)
			if err != nil && domain.IsInvalidArgument(err) {
				return callResult{err: err}, nil
			}
			return callResult{value: v}, err
		})
		if err == nil {
			r := res.(callResult)
			return r.value, r.err
		}

		lastErr = err
		log.WithError(err).Warnf("wallet backend %d failed %s", i, method)
	}
	return nil, fmt.Errorf("%w: %w", ErrNoBackendAvailable, lastErr)
}
