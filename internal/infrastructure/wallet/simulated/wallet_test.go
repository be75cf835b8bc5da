package simulated_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/wallet/simulated"
)

const (
	tradeID = "trade"
	fee     = simulated.DefaultTxFee
)

func newTestWallets(t *testing.T) (*simulated.Chain, []*simulated.Wallet) {
	chain := simulated.NewChain()
	wallets := make([]*simulated.Wallet, 0, 3)
	for _, name := range []string{"buyer", "seller", "arbitrator"} {
		w, err := simulated.NewWallet(chain, name, 0)
		require.NoError(t, err)
		wallets = append(wallets, w)
	}
	return chain, wallets
}

func TestReserveTx(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, wallets := newTestWallets(t)
	buyer, seller := wallets[0], wallets[1]

	_, err := buyer.CreateReserveTx(ctx, tradeID, 1e10)
	require.True(t, errors.Is(err, simulated.ErrInsufficientFunds))

	require.NoError(t, buyer.Fund(2e10))
	reserveTx, err := buyer.CreateReserveTx(ctx, tradeID, 1e10)
	require.NoError(t, err)
	require.NotEmpty(t, reserveTx.Hash)
	require.NotEmpty(t, reserveTx.Key)

	again, err := buyer.CreateReserveTx(ctx, tradeID, 1e10)
	require.NoError(t, err)
	require.Equal(t, reserveTx, again)

	// Reserved coins can't be used by another trade.
	_, err = buyer.CreateReserveTx(ctx, "another trade", 1e9)
	require.True(t, errors.Is(err, simulated.ErrInsufficientFunds))

	require.NoError(t, seller.VerifyReserveTx(ctx, tradeID, reserveTx, 1e10))

	err = seller.VerifyReserveTx(ctx, tradeID, reserveTx, 2e10)
	require.True(t, domain.IsInvalidArgument(err))

	tampered := reserveTx
	tampered.Hash = reserveTx.Key
	err = seller.VerifyReserveTx(ctx, tradeID, tampered, 1e10)
	require.True(t, domain.IsInvalidArgument(err))
}

func TestMultisigAddressConvergence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, wallets := newTestWallets(t)
	multisigs := openMultisigs(t, wallets)

	exchanges, made := setupMultisig(t, multisigs)
	for _, e := range exchanges[1:] {
		require.Equal(t, exchanges[0].Address, e.Address)
		require.Equal(t, exchanges[0].Hex, e.Hex)
	}

	// A party making a different script is detected on exchange.
	_, otherWallets := newTestWallets(t)
	otherExchanges, otherMade := setupMultisig(t, openMultisigs(t, otherWallets))
	require.NotEqual(t, exchanges[0].Address, otherExchanges[0].Address)

	_, err := multisigs[0].ExchangeMultisigKeys(ctx, []string{made, otherMade})
	require.True(t, errors.Is(err, domain.ErrMultisigMismatch))
}

func TestDepositAndPayout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain, wallets := newTestWallets(t)
	buyer, seller, arbitrator := wallets[0], wallets[1], wallets[2]
	multisigs := openMultisigs(t, wallets)
	exchanges, _ := setupMultisig(t, multisigs)
	exchange := exchanges[0]

	require.NoError(t, buyer.Fund(2e11))
	require.NoError(t, seller.Fund(8e11))

	buyerDeposit := uint64(75e9)
	sellerDeposit := uint64(575e9)

	buyerTx, err := buyer.CreateDepositTx(ctx, tradeID, exchange.Address, buyerDeposit)
	require.NoError(t, err)
	sellerTx, err := seller.CreateDepositTx(ctx, tradeID, exchange.Address, sellerDeposit)
	require.NoError(t, err)

	info, err := arbitrator.VerifyDepositTx(ctx, tradeID, exchange.Address, buyerTx, buyerDeposit)
	require.NoError(t, err)
	require.Equal(t, buyerDeposit, info.Amount)
	require.Equal(t, uint64(fee), info.Fee)

	_, err = arbitrator.VerifyDepositTx(ctx, tradeID, exchange.Address, buyerTx, sellerDeposit)
	require.True(t, domain.IsInvalidArgument(err))

	hashes := make([]string, 0, 2)
	for _, tx := range []domain.TxRef{buyerTx, sellerTx} {
		hash, err := arbitrator.SubmitTxToPool(ctx, tx.Hex)
		require.NoError(t, err)
		require.Equal(t, tx.Hash, hash)
		hashes = append(hashes, hash)
	}
	_, err = arbitrator.GetTxConfirmations(ctx, hashes[0])
	require.True(t, errors.Is(err, simulated.ErrTxNotFound))

	require.NoError(t, arbitrator.RelayTxs(ctx, hashes))
	confs, err := buyer.GetTxConfirmations(ctx, hashes[0])
	require.NoError(t, err)
	require.Zero(t, confs)

	chain.MineBlock()
	chain.MineBlock()
	confs, err = seller.GetTxConfirmations(ctx, hashes[1])
	require.NoError(t, err)
	require.Equal(t, uint64(2), confs)

	buyerAddr, err := buyer.GetNewAddress(ctx)
	require.NoError(t, err)
	sellerAddr, err := seller.GetNewAddress(ctx)
	require.NoError(t, err)
	payout := ports.Payout{
		BuyerAddress:  buyerAddr,
		BuyerAmount:   5e11 + buyerDeposit - fee,
		SellerAddress: sellerAddr,
		SellerAmount:  sellerDeposit - 5e11 - fee,
	}

	_, err = multisigs[0].CreatePayoutTx(ctx, payout)
	require.True(t, errors.Is(err, simulated.ErrMultisigNotReady))

	exported := make([]string, 0, len(multisigs))
	for _, ms := range multisigs {
		hex, err := ms.ExportMultisigHex(ctx)
		require.NoError(t, err)
		exported = append(exported, hex)
	}
	require.NoError(t, multisigs[0].ImportMultisigHex(ctx, exported[1:]))
	require.NoError(t, multisigs[1].ImportMultisigHex(ctx, []string{exported[0]}))

	payoutTx, err := multisigs[0].CreatePayoutTx(ctx, payout)
	require.NoError(t, err)

	// A single signature is not enough to publish.
	_, err = multisigs[0].VerifyPayoutTx(ctx, payoutTx.Hex, payout, false, true)
	require.True(t, errors.Is(err, simulated.ErrMissingSignatures))

	wrongPayout := payout
	wrongPayout.SellerAmount++
	_, err = multisigs[1].VerifyPayoutTx(ctx, payoutTx.Hex, wrongPayout, false, false)
	require.True(t, domain.IsInvalidArgument(err))

	signedTx, err := multisigs[1].VerifyPayoutTx(ctx, payoutTx.Hex, payout, true, true)
	require.NoError(t, err)
	require.Equal(t, payoutTx.Hash, signedTx.Hash)

	verified, err := multisigs[2].VerifyPayoutTx(ctx, signedTx.Hex, payout, false, false)
	require.NoError(t, err)
	require.Equal(t, signedTx.Hash, verified.Hash)

	confs, err = arbitrator.GetTxConfirmations(ctx, signedTx.Hash)
	require.NoError(t, err)
	require.Zero(t, confs)
}

func TestAtomicRelay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain, wallets := newTestWallets(t)
	buyer, seller, arbitrator := wallets[0], wallets[1], wallets[2]
	exchanges, _ := setupMultisig(t, openMultisigs(t, wallets))
	exchange := exchanges[0]

	require.NoError(t, buyer.Fund(2e11))
	require.NoError(t, seller.Fund(8e11))

	buyerTx, err := buyer.CreateDepositTx(ctx, tradeID, exchange.Address, 75e9)
	require.NoError(t, err)
	sellerTx, err := seller.CreateDepositTx(ctx, tradeID, exchange.Address, 575e9)
	require.NoError(t, err)

	chain.SetSubmitHook(func(tx *wire.MsgTx) error {
		if seller.Spends(tx) {
			return fmt.Errorf("rejected")
		}
		return nil
	})

	hash, err := arbitrator.SubmitTxToPool(ctx, buyerTx.Hex)
	require.NoError(t, err)
	_, err = arbitrator.SubmitTxToPool(ctx, sellerTx.Hex)
	require.Error(t, err)

	require.True(t, chain.InPool(hash))
	require.NoError(t, arbitrator.FlushTxPool(ctx, []string{hash}))
	require.False(t, chain.InPool(hash))

	_, err = arbitrator.GetTxConfirmations(ctx, buyerTx.Hash)
	require.True(t, errors.Is(err, simulated.ErrTxNotFound))
	_, err = arbitrator.GetTxConfirmations(ctx, sellerTx.Hash)
	require.True(t, errors.Is(err, simulated.ErrTxNotFound))
	require.Equal(t, uint64(2e11), buyer.Balance())
}

func TestDoubleSpend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, wallets := newTestWallets(t)
	buyer, arbitrator := wallets[0], wallets[2]
	exchanges, _ := setupMultisig(t, openMultisigs(t, wallets))
	exchange := exchanges[0]

	require.NoError(t, buyer.Fund(2e11))
	reserveTx, err := buyer.CreateReserveTx(ctx, tradeID, 1e11)
	require.NoError(t, err)
	depositTx, err := buyer.CreateDepositTx(ctx, tradeID, exchange.Address, 75e9)
	require.NoError(t, err)

	_, err = arbitrator.SubmitTxToPool(ctx, depositTx.Hex)
	require.NoError(t, err)
	_, err = arbitrator.SubmitTxToPool(ctx, reserveTx.Hex)
	require.True(t, errors.Is(err, simulated.ErrDoubleSpend))

	require.NoError(t, arbitrator.RelayTxs(ctx, []string{depositTx.Hash}))
	err = arbitrator.VerifyReserveTx(ctx, tradeID, reserveTx, 1e11)
	require.True(t, domain.IsInvalidArgument(err))
}

func openMultisigs(t *testing.T, wallets []*simulated.Wallet) []ports.MultisigWallet {
	multisigs := make([]ports.MultisigWallet, 0, len(wallets))
	for _, w := range wallets {
		ms, err := w.OpenMultisigWallet(context.Background(), tradeID)
		require.NoError(t, err)
		multisigs = append(multisigs, ms)
	}
	return multisigs
}

func prepared(t *testing.T, multisigs []ports.MultisigWallet) []string {
	hexes := make([]string, 0, len(multisigs))
	for _, ms := range multisigs {
		h, err := ms.PrepareMultisig(context.Background())
		require.NoError(t, err)
		hexes = append(hexes, h)
	}
	return hexes
}

// setupMultisig runs the 3 rounds of the multisig setup and returns the
// outcome of the exchange of every party together with the made script.
func setupMultisig(
	t *testing.T, multisigs []ports.MultisigWallet,
) ([]*ports.MultisigExchange, string) {
	ctx := context.Background()
	hexes := prepared(t, multisigs)

	madeHexes := make([]string, len(multisigs))
	for i, ms := range multisigs {
		others := make([]string, 0, len(hexes)-1)
		for j, h := range hexes {
			if j != i {
				others = append(others, h)
			}
		}
		h, err := ms.MakeMultisig(ctx, others)
		require.NoError(t, err)
		madeHexes[i] = h
	}
	for i := 1; i < len(madeHexes); i++ {
		require.Equal(t, madeHexes[0], madeHexes[i])
	}

	exchanges := make([]*ports.MultisigExchange, 0, len(multisigs))
	for i, ms := range multisigs {
		others := make([]string, 0, len(madeHexes)-1)
		for j, h := range madeHexes {
			if j != i {
				others = append(others, h)
			}
		}
		e, err := ms.ExchangeMultisigKeys(ctx, others)
		require.NoError(t, err)
		exchanges = append(exchanges, e)
	}
	return exchanges, madeHexes[0]
}
