package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/pkg/crypto"
)

// createDepositTx funds the multisig address with the local deposit once
// the multisig wallet exists.
var createDepositTx = newTask(
	"create deposit tx",
	func(ctx context.Context, pm *ProcessModel) error {
		t := pm.Trade
		if t.MultisigAddress == "" || !pm.self().DepositTx.IsEmpty() {
			return nil
		}

		pm.svc.WalletLock.Lock()
		tx, err := pm.svc.Wallet.CreateDepositTx(
			ctx, t.ID, t.MultisigAddress, t.DepositAmount(t.SelfRole()),
		)
		pm.svc.WalletLock.Unlock()
		if err != nil {
			return fmt.Errorf("failed to create deposit tx: %w", err)
		}

		if err := pm.updatePeer(t.SelfRole(), func(p domain.Peer) (domain.Peer, error) {
			p.DepositTx = tx
			return p, nil
		}); err != nil {
			return err
		}
		pm.depositCreated = true
		return nil
	},
)

// sendSignContractRequest sends the local trader terms to both other peers
// right after the deposit tx is created.
var sendSignContractRequest = newAsyncTask(
	"send sign contract request",
	func(ctx context.Context, pm *ProcessModel, complete func(), fail func(error)) {
		t := pm.Trade
		if !pm.depositCreated {
			complete()
			return
		}

		self := pm.self()
		witness, err := pm.svc.AccountAge.SignWitness(
			ctx, *self.PaymentAccountPayload, t.Nonce(),
		)
		if err != nil {
			fail(fmt.Errorf("failed to sign account age witness: %w", err))
			return
		}
		if err := pm.updatePeer(t.SelfRole(), func(p domain.Peer) (domain.Peer, error) {
			p.AccountAgeWitness = witness
			return p, nil
		}); err != nil {
			fail(err)
			return
		}

		pm.setState(domain.StateContractSignatureRequested)
		msgs := toOthers(t, func(domain.PeerRole) domain.Message {
			return &domain.SignContractRequest{
				MessageInfo:               pm.selfInfo(),
				AccountID:                 self.AccountID,
				PaymentMethodID:           self.PaymentMethodID,
				PaymentAccountPayloadHash: self.PaymentAccountPayloadHash,
				PayoutAddress:             self.PayoutAddress,
				DepositTxHash:             self.DepositTx.Hash,
				AccountAgeWitness:         witness,
			}
		})
		sendMessages(ctx, pm, false, msgs, nil, requireDelivery(complete, fail))
	},
)

// recordContractTerms stores the terms received with a sign contract
// request.
var recordContractTerms = newTask(
	"record contract terms",
	func(_ context.Context, pm *ProcessModel) error {
		t := pm.Trade
		msg, ok := pm.Message.(*domain.SignContractRequest)
		if !ok {
			return domain.NewInvalidArgumentError("unexpected message %s", pm.Message.Type())
		}

		switch {
		case msg.PaymentMethodID != t.Offer.PaymentMethodID:
			return domain.NewInvalidArgumentError("payment method mismatch")
		case msg.AccountID == "":
			return domain.NewInvalidArgumentError("missing account id")
		case len(msg.PaymentAccountPayloadHash) == 0:
			return domain.NewInvalidArgumentError("missing payment account hash")
		case msg.PayoutAddress == "":
			return domain.NewInvalidArgumentError("missing payout address")
		case msg.DepositTxHash == "":
			return domain.NewInvalidArgumentError("missing deposit tx hash")
		}

		return pm.updatePeer(pm.SenderRole, func(p domain.Peer) (domain.Peer, error) {
			if !p.DepositTx.IsEmpty() && p.DepositTx.Hash != msg.DepositTxHash {
				return p, domain.NewInvalidArgumentError("deposit tx hash changed")
			}
			if len(p.PaymentAccountPayloadHash) > 0 &&
				!bytes.Equal(p.PaymentAccountPayloadHash, msg.PaymentAccountPayloadHash) {
				return p, domain.NewInvalidArgumentError("payment account hash changed")
			}
			p.AccountID = msg.AccountID
			p.PaymentMethodID = msg.PaymentMethodID
			p.PaymentAccountPayloadHash = msg.PaymentAccountPayloadHash
			p.PayoutAddress = msg.PayoutAddress
			if p.DepositTx.IsEmpty() {
				p.DepositTx = domain.TxRef{Hash: msg.DepositTxHash}
			}
			p.AccountAgeWitness = msg.AccountAgeWitness
			return p, nil
		})
	},
)

// maybeSignContract signs the contract as soon as every term is known and
// sends the signature to both other peers.
var maybeSignContract = newAsyncTask(
	"sign contract",
	func(ctx context.Context, pm *ProcessModel, complete func(), fail func(error)) {
		t := pm.Trade
		if len(pm.self().ContractSignature) > 0 {
			complete()
			return
		}
		// Traders sign only after sending their own terms.
		if !t.Role.IsArbitrator() &&
			t.State != domain.StateContractSignatureRequested {
			complete()
			return
		}

		contract, err := domain.NewContract(t)
		if err != nil {
			if errors.Is(err, domain.ErrMissingContractData) {
				complete()
				return
			}
			fail(err)
			return
		}
		contractAsJSON, err := contract.JSON()
		if err != nil {
			fail(err)
			return
		}
		if err := t.SetContract(contractAsJSON); err != nil {
			fail(err)
			return
		}
		sig, err := pm.svc.KeyRing.Sign(t.ContractHash)
		if err != nil {
			fail(fmt.Errorf("failed to sign contract: %w", err))
			return
		}

		var encryptedPayload []byte
		if !t.Role.IsArbitrator() {
			if encryptedPayload, err = encryptPaymentAccount(pm); err != nil {
				fail(err)
				return
			}
		}
		if err := pm.updatePeer(t.SelfRole(), func(p domain.Peer) (domain.Peer, error) {
			p.ContractSignature = sig
			return p, nil
		}); err != nil {
			fail(err)
			return
		}
		pm.setState(domain.StateContractSigned)

		msgs := toOthers(t, func(domain.PeerRole) domain.Message {
			return &domain.SignContractResponse{
				MessageInfo:                    pm.selfInfo(),
				ContractAsJSON:                 contractAsJSON,
				ContractSignature:              sig,
				EncryptedPaymentAccountPayload: encryptedPayload,
			}
		})
		sendMessages(ctx, pm, false, msgs, nil, requireDelivery(complete, fail))
	},
)

// encryptPaymentAccount encrypts the local payment account payload with a
// new random key, revealed later to the trade peer.
func encryptPaymentAccount(pm *ProcessModel) ([]byte, error) {
	self := pm.self()
	if self.PaymentAccountPayload == nil {
		return nil, domain.NewInvalidArgumentError("missing payment account")
	}
	if len(self.EncryptedPaymentAccountPayload) > 0 {
		return self.EncryptedPaymentAccountPayload, nil
	}

	key, err := crypto.NewKey()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(self.PaymentAccountPayload)
	if err != nil {
		return nil, err
	}
	encrypted, err := crypto.Encrypt(crypto.EncryptOpts{
		PlainText:  payload,
		Passphrase: key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt payment account: %w", err)
	}

	if err := pm.updatePeer(pm.Trade.SelfRole(), func(p domain.Peer) (domain.Peer, error) {
		p.PaymentAccountKey = key
		p.EncryptedPaymentAccountPayload = encrypted
		return p, nil
	}); err != nil {
		return nil, err
	}
	return encrypted, nil
}

// processContractSignature verifies the contract signed by the sender and
// stores its signature and encrypted payment account.
var processContractSignature = newTask(
	"process contract signature",
	func(_ context.Context, pm *ProcessModel) error {
		t := pm.Trade
		msg, ok := pm.Message.(*domain.SignContractResponse)
		if !ok {
			return domain.NewInvalidArgumentError("unexpected message %s", pm.Message.Type())
		}
		if msg.ContractAsJSON == "" || len(msg.ContractSignature) == 0 {
			return domain.NewInvalidArgumentError("missing contract or signature")
		}

		sender := t.Peer(pm.SenderRole)
		if err := pm.svc.KeyRing.Verify(
			sender.PubKeyRing, domain.ContractHash(msg.ContractAsJSON),
			msg.ContractSignature,
		); err != nil {
			return domain.NewInvalidArgumentError(
				"invalid contract signature of %s: %s", pm.SenderRole, err,
			)
		}
		if err := t.SetContract(msg.ContractAsJSON); err != nil {
			return err
		}

		return pm.updatePeer(pm.SenderRole, func(p domain.Peer) (domain.Peer, error) {
			p.ContractSignature = msg.ContractSignature
			if pm.SenderRole != domain.PeerArbitrator {
				if len(msg.EncryptedPaymentAccountPayload) == 0 {
					return p, domain.NewInvalidArgumentError(
						"missing encrypted payment account",
					)
				}
				p.EncryptedPaymentAccountPayload = msg.EncryptedPaymentAccountPayload
			}
			return p, nil
		})
	},
)

// decryptPaymentAccount decrypts the payment account of the peer with the
// given role, checks it against the committed hash and verifies its account
// age witness.
func decryptPaymentAccount(
	ctx context.Context, pm *ProcessModel, role domain.PeerRole,
) error {
	t := pm.Trade
	peer := t.Peer(role)
	if peer.PaymentAccountPayload != nil {
		return nil
	}
	if len(peer.PaymentAccountKey) == 0 {
		return domain.NewInvalidArgumentError("missing payment account key of %s", role)
	}
	if len(peer.EncryptedPaymentAccountPayload) == 0 {
		return domain.NewInvalidArgumentError("missing payment account of %s", role)
	}

	plain, err := crypto.Decrypt(crypto.DecryptOpts{
		CypherText: peer.EncryptedPaymentAccountPayload,
		Passphrase: peer.PaymentAccountKey,
	})
	if err != nil {
		return domain.NewInvalidArgumentError(
			"failed to decrypt payment account of %s: %s", role, err,
		)
	}
	var payload domain.PaymentAccountPayload
	if err := json.Unmarshal(plain, &payload); err != nil {
		return domain.NewInvalidArgumentError(
			"malformed payment account of %s: %s", role, err,
		)
	}
	hash, err := payload.Hash()
	if err != nil {
		return err
	}
	if !bytes.Equal(hash, peer.PaymentAccountPayloadHash) {
		return domain.NewInvalidArgumentError(
			"payment account of %s doesn't match contract", role,
		)
	}

	peer.PaymentAccountPayload = &payload
	if !pm.svc.PaymentMethods.IsCrypto(payload.PaymentMethodID) {
		if err := pm.svc.AccountAge.VerifyPeersWitness(ctx, peer, t.Nonce()); err != nil {
			return domain.NewInvalidArgumentError(
				"invalid account age witness of %s: %s", role, err,
			)
		}
	}

	return pm.updatePeer(role, func(p domain.Peer) (domain.Peer, error) {
		p.PaymentAccountPayload = &payload
		return p, nil
	})
}
