package protocol

import (
	"bytes"
	"context"
	"fmt"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
)

// expectedPayout returns the outputs of the payout tx: the buyer receives
// the trade amount plus its security deposit, the seller its security
// deposit.
func expectedPayout(t *domain.Trade) ports.Payout {
	buyer, seller := t.Buyer(), t.Seller()
	return ports.Payout{
		BuyerAddress:  buyer.PayoutAddress,
		BuyerAmount:   t.Amount + buyer.SecurityDeposit,
		SellerAddress: seller.PayoutAddress,
		SellerAmount:  seller.SecurityDeposit,
	}
}

// createPayoutTx creates the payout tx signed by the buyer.
var createPayoutTx = newTask(
	"create payout tx",
	func(ctx context.Context, pm *ProcessModel) error {
		t := pm.Trade
		w, err := pm.multisigWallet(ctx)
		if err != nil {
			return err
		}
		tx, err := w.CreatePayoutTx(ctx, expectedPayout(t))
		if err != nil {
			return fmt.Errorf("failed to create payout tx: %w", err)
		}
		t.PayoutTxHex = tx.Hex
		t.PayoutTxHash = tx.Hash
		return nil
	},
)

var sendPaymentSent = sendPaymentMessage(
	domain.MsgPaymentSent, domain.StateBuyerSentPaymentSentMsg,
)

var sendPaymentReceived = sendPaymentMessage(
	domain.MsgPaymentReceived, domain.StateSellerSentPaymentReceivedMsg,
)

// processPaymentSent lets the seller check the buyer's payment account and
// the payout tx prepared by the buyer.
var processPaymentSent = newTask(
	"process payment sent",
	func(ctx context.Context, pm *ProcessModel) error {
		t := pm.Trade
		msg, ok := pm.Message.(*domain.PaymentSentMessage)
		if !ok {
			return domain.NewInvalidArgumentError("unexpected message %s", pm.Message.Type())
		}
		if err := recordPaymentSentMessage(pm, msg); err != nil {
			return err
		}
		if err := decryptPaymentAccount(ctx, pm, t.BuyerRole()); err != nil {
			return err
		}

		w, err := pm.multisigWallet(ctx)
		if err != nil {
			return err
		}
		if err := w.ImportMultisigHex(ctx, []string{msg.UpdatedMultisigHex}); err != nil {
			return fmt.Errorf("failed to import multisig hex of buyer: %w", err)
		}
		tx, err := w.VerifyPayoutTx(ctx, msg.PayoutTxHex, expectedPayout(t), false, false)
		if err != nil {
			return fmt.Errorf("invalid payout tx: %w", err)
		}
		t.PayoutTxHex = tx.Hex
		return nil
	},
)

// recordPaymentSent lets the arbitrator keep track of the payment sent by
// the buyer.
var recordPaymentSent = newTask(
	"record payment sent",
	func(_ context.Context, pm *ProcessModel) error {
		msg, ok := pm.Message.(*domain.PaymentSentMessage)
		if !ok {
			return domain.NewInvalidArgumentError("unexpected message %s", pm.Message.Type())
		}
		if err := recordPaymentSentMessage(pm, msg); err != nil {
			return err
		}
		if pm.Trade.PayoutTxHex == "" {
			pm.Trade.PayoutTxHex = msg.PayoutTxHex
		}
		return nil
	},
)

func recordPaymentSentMessage(pm *ProcessModel, msg *domain.PaymentSentMessage) error {
	switch {
	case msg.PayoutTxHex == "":
		return domain.NewInvalidArgumentError("missing payout tx")
	case len(msg.BuyerPaymentAccountKey) == 0:
		return domain.NewInvalidArgumentError("missing payment account key of buyer")
	case msg.UpdatedMultisigHex == "":
		return domain.NewInvalidArgumentError("missing updated multisig hex of buyer")
	}
	return pm.updatePeer(pm.Trade.BuyerRole(), func(p domain.Peer) (domain.Peer, error) {
		if len(p.PaymentAccountKey) > 0 &&
			!bytes.Equal(p.PaymentAccountKey, msg.BuyerPaymentAccountKey) {
			return p, domain.NewInvalidArgumentError("payment account key of buyer changed")
		}
		p.PaymentAccountKey = msg.BuyerPaymentAccountKey
		p.UpdatedMultisigHex = msg.UpdatedMultisigHex
		return p, nil
	})
}

// signAndPublishPayoutTx adds the seller signature to the payout tx and
// broadcasts it.
var signAndPublishPayoutTx = newTask(
	"sign and publish payout tx",
	func(ctx context.Context, pm *ProcessModel) error {
		t := pm.Trade
		if t.PayoutTxHex == "" {
			return domain.NewInvalidArgumentError("missing payout tx")
		}
		w, err := pm.multisigWallet(ctx)
		if err != nil {
			return err
		}
		tx, err := w.VerifyPayoutTx(ctx, t.PayoutTxHex, expectedPayout(t), true, true)
		if err != nil {
			return fmt.Errorf("failed to publish payout tx: %w", err)
		}
		t.PayoutTxHex = tx.Hex
		t.PayoutTxHash = tx.Hash
		t.PayoutPublished = true
		logger(t).WithField("txid", tx.Hash).Info("payout tx published")
		return nil
	},
)

// verifySignedPayoutTx checks the payout tx published by the seller.
var verifySignedPayoutTx = newTask(
	"verify signed payout tx",
	func(ctx context.Context, pm *ProcessModel) error {
		t := pm.Trade
		msg, ok := pm.Message.(*domain.PaymentReceivedMessage)
		if !ok {
			return domain.NewInvalidArgumentError("unexpected message %s", pm.Message.Type())
		}
		if msg.SignedPayoutTxHex == "" || msg.PayoutTxHash == "" {
			return domain.NewInvalidArgumentError("missing signed payout tx")
		}

		w, err := pm.multisigWallet(ctx)
		if err != nil {
			return err
		}
		tx, err := w.VerifyPayoutTx(
			ctx, msg.SignedPayoutTxHex, expectedPayout(t), false, false,
		)
		if err != nil {
			return fmt.Errorf("invalid payout tx: %w", err)
		}
		if tx.Hash != msg.PayoutTxHash {
			return domain.NewInvalidArgumentError("payout tx hash mismatch")
		}
		// The payout may not have reached the local node yet.
		if _, err := pm.svc.Wallet.GetTxConfirmations(ctx, tx.Hash); err != nil {
			return fmt.Errorf("payout tx not found: %w", err)
		}

		if msg.UpdatedMultisigHex != "" {
			if err := pm.updatePeer(pm.SenderRole, func(p domain.Peer) (domain.Peer, error) {
				p.UpdatedMultisigHex = msg.UpdatedMultisigHex
				return p, nil
			}); err != nil {
				return err
			}
		}
		t.PayoutTxHex = msg.SignedPayoutTxHex
		t.PayoutTxHash = msg.PayoutTxHash
		t.PayoutPublished = true
		return nil
	},
)
