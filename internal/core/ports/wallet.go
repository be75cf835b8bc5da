package ports

import (
	"context"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

// DepositInfo is the result of the verification of a deposit tx.
type DepositInfo struct {
	Amount uint64
	Fee    uint64
}

// Payout describes the expected outputs of a payout tx.
type Payout struct {
	BuyerAddress  string
	BuyerAmount   uint64
	SellerAddress string
	SellerAmount  uint64
}

// MultisigExchange is the outcome of the last round of the multisig setup.
type MultisigExchange struct {
	Address string
	Hex     string
}

// WalletService is the wallet of the local node. Every method is a remote
// call that may fail and may be retried against another backend.
type WalletService interface {
	// CreateReserveTx sets aside the given amount plus fees for the trade.
	CreateReserveTx(
		ctx context.Context, tradeID string, amount uint64,
	) (domain.TxRef, error)
	// VerifyReserveTx checks that tx reserves at least the given amount.
	VerifyReserveTx(
		ctx context.Context, tradeID string, tx domain.TxRef, amount uint64,
	) error
	// CreateDepositTx funds the multisig address with the given amount.
	CreateDepositTx(
		ctx context.Context, tradeID, multisigAddress string, amount uint64,
	) (domain.TxRef, error)
	// VerifyDepositTx checks that tx funds the multisig address with at
	// least the given amount and returns the actual amount and mining fee.
	VerifyDepositTx(
		ctx context.Context, tradeID, multisigAddress string,
		tx domain.TxRef, amount uint64,
	) (*DepositInfo, error)
	// SubmitTxToPool adds the tx to the pool without broadcasting it.
	SubmitTxToPool(ctx context.Context, txHex string) (string, error)
	// RelayTxs broadcasts txs previously submitted to the pool.
	RelayTxs(ctx context.Context, txHashes []string) error
	// FlushTxPool drops the given txs from the pool.
	FlushTxPool(ctx context.Context, txHashes []string) error
	// GetTxConfirmations returns the number of confirmations of a relayed
	// tx, 0 if not mined yet.
	GetTxConfirmations(ctx context.Context, txHash string) (uint64, error)
	// GetNewAddress returns a new receiving address.
	GetNewAddress(ctx context.Context) (string, error)
	// OpenMultisigWallet returns the multisig wallet of the trade. The
	// handle is owned by the trade.
	OpenMultisigWallet(ctx context.Context, tradeID string) (MultisigWallet, error)
	Close()
}

// MultisigWallet is the 2-of-3 wallet shared by the parties of a trade.
type MultisigWallet interface {
	PrepareMultisig(ctx context.Context) (string, error)
	MakeMultisig(ctx context.Context, preparedHexes []string) (string, error)
	ExchangeMultisigKeys(
		ctx context.Context, madeHexes []string,
	) (*MultisigExchange, error)
	ExportMultisigHex(ctx context.Context) (string, error)
	ImportMultisigHex(ctx context.Context, hexes []string) error
	// CreatePayoutTx returns the payout tx signed by the local party.
	CreatePayoutTx(ctx context.Context, payout Payout) (domain.TxRef, error)
	// VerifyPayoutTx checks the outputs of the payout tx and optionally adds
	// the local signature and broadcasts it.
	VerifyPayoutTx(
		ctx context.Context, txHex string, payout Payout, sign, publish bool,
	) (domain.TxRef, error)
}
