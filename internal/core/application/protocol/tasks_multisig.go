package protocol

import (
	"context"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

// processMultisig merges the multisig material of the sender, if any, then
// advances the local multisig setup as far as the known material allows.
var processMultisig = newTask(
	"process multisig",
	func(ctx context.Context, pm *ProcessModel) error {
		if msg, ok := pm.Message.(*domain.InitMultisigRequest); ok {
			if err := pm.updatePeer(pm.SenderRole, func(p domain.Peer) (domain.Peer, error) {
				return p.WithMultisig(
					msg.PreparedMultisigHex, msg.MadeMultisigHex,
					msg.ExchangedMultisigHex,
				)
			}); err != nil {
				return err
			}
		}

		if pm.Trade.Phase != domain.PhaseInit {
			return nil
		}
		return advanceMultisig(ctx, pm)
	},
)

func advanceMultisig(ctx context.Context, pm *ProcessModel) error {
	t := pm.Trade
	w, err := pm.multisigWallet(ctx)
	if err != nil {
		return err
	}
	selfRole := t.SelfRole()
	others := t.OtherRoles()

	if pm.self().PreparedMultisigHex == "" {
		prepared, err := w.PrepareMultisig(ctx)
		if err != nil {
			return err
		}
		if err := pm.updatePeer(selfRole, func(p domain.Peer) (domain.Peer, error) {
			return p.WithMultisig(prepared, "", "")
		}); err != nil {
			return err
		}
		pm.setState(domain.StateMultisigPrepared)
		pm.multisigChanged = true
	}

	preparedHexes := collect(t, others, func(p domain.Peer) string {
		return p.PreparedMultisigHex
	})
	if pm.self().MadeMultisigHex == "" && len(preparedHexes) == len(others) {
		made, err := w.MakeMultisig(ctx, preparedHexes)
		if err != nil {
			return err
		}
		if err := pm.updatePeer(selfRole, func(p domain.Peer) (domain.Peer, error) {
			return p.WithMultisig("", made, "")
		}); err != nil {
			return err
		}
		pm.setState(domain.StateMultisigMade)
		pm.multisigChanged = true
	}

	madeHexes := collect(t, others, func(p domain.Peer) string {
		return p.MadeMultisigHex
	})
	if pm.self().MadeMultisigHex != "" && pm.self().ExchangedMultisigHex == "" &&
		len(madeHexes) == len(others) {
		result, err := w.ExchangeMultisigKeys(ctx, madeHexes)
		if err != nil {
			return err
		}
		if err := pm.updatePeer(selfRole, func(p domain.Peer) (domain.Peer, error) {
			return p.WithMultisig("", "", result.Hex)
		}); err != nil {
			return err
		}
		t.MultisigAddress = result.Address
		pm.setState(domain.StateMultisigExchanged)
		pm.multisigChanged = true

		logger(t).WithField("address", result.Address).Info("multisig wallet created")
	}
	return nil
}

// collect returns the non empty values of the given peers.
func collect(
	t *domain.Trade, roles []domain.PeerRole, get func(p domain.Peer) string,
) []string {
	values := make([]string, 0, len(roles))
	for _, role := range roles {
		if v := get(t.Peer(role)); v != "" {
			values = append(values, v)
		}
	}
	return values
}

// sendMultisigUpdates sends the latest local multisig material to both
// other peers, only if it changed during this pipeline.
var sendMultisigUpdates = newAsyncTask(
	"send multisig updates",
	func(ctx context.Context, pm *ProcessModel, complete func(), fail func(error)) {
		if !pm.multisigChanged {
			complete()
			return
		}
		self := pm.self()
		msgs := toOthers(pm.Trade, func(domain.PeerRole) domain.Message {
			return &domain.InitMultisigRequest{
				MessageInfo:          pm.selfInfo(),
				PreparedMultisigHex:  self.PreparedMultisigHex,
				MadeMultisigHex:      self.MadeMultisigHex,
				ExchangedMultisigHex: self.ExchangedMultisigHex,
			}
		})
		sendMessages(ctx, pm, false, msgs, nil, requireDelivery(complete, fail))
	},
)

// exportMultisigHex refreshes the local updated multisig hex.
var exportMultisigHex = newTask(
	"export multisig hex",
	func(ctx context.Context, pm *ProcessModel) error {
		w, err := pm.multisigWallet(ctx)
		if err != nil {
			return err
		}
		updated, err := w.ExportMultisigHex(ctx)
		if err != nil {
			return err
		}
		return pm.updatePeer(pm.Trade.SelfRole(), func(p domain.Peer) (domain.Peer, error) {
			p.UpdatedMultisigHex = updated
			return p, nil
		})
	},
)

// importPeersMultisigHex imports the updated multisig hexes received from
// the other peers.
var importPeersMultisigHex = newTask(
	"import multisig hex",
	func(ctx context.Context, pm *ProcessModel) error {
		hexes := collect(pm.Trade, pm.Trade.OtherRoles(), func(p domain.Peer) string {
			return p.UpdatedMultisigHex
		})
		if len(hexes) == 0 {
			return domain.NewInvalidArgumentError("missing updated multisig hex of peers")
		}
		w, err := pm.multisigWallet(ctx)
		if err != nil {
			return err
		}
		return w.ImportMultisigHex(ctx, hexes)
	},
)
