package protocol

import (
	"context"
	"fmt"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

// applySenderIdentity binds the address and pub key ring of the sender to
// its role. A sender claiming a ring different from the known one fails
// the trade.
var applySenderIdentity = newTask(
	"apply sender identity",
	func(_ context.Context, pm *ProcessModel) error {
		info := pm.Message.Info()
		return pm.updatePeer(pm.SenderRole, func(p domain.Peer) (domain.Peer, error) {
			return p.WithIdentity(pm.Sender, info.SenderPubKeyRing)
		})
	},
)

func setStateTask(state domain.State) Task {
	return newTask(
		fmt.Sprintf("set state %s", state),
		func(_ context.Context, pm *ProcessModel) error {
			return pm.Trade.SetState(state)
		},
	)
}

var completeTrade = newTask(
	"complete trade",
	func(_ context.Context, pm *ProcessModel) error {
		return pm.Trade.Complete()
	},
)
