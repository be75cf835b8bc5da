package protocol

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
)

// errRunClosed is returned to tasks still running after their pipeline
// ended.
var errRunClosed = errors.New("pipeline run is over")

// ProcessModel is the working set of a single pipeline run. Every run gets
// its own model, so a task outliving its run never touches the trade of the
// next one.
type ProcessModel struct {
	// Trade is the working copy of the trade, committed when the pipeline
	// ends.
	Trade *domain.Trade
	// Message is the inbound message driving the pipeline, if any.
	Message domain.Message
	// Sender is the address of the message sender.
	Sender domain.NodeAddress
	// SenderRole is resolved by the condition of the pipeline.
	SenderRole domain.PeerRole

	// multisigChanged is set when the local multisig material advanced.
	multisigChanged bool
	// depositCreated is set when the local deposit tx was created.
	depositCreated bool

	svc      Services
	cfg      Config
	protocol *TradeProtocol

	// lock serializes late callbacks with close.
	lock   sync.Mutex
	closed atomic.Bool
}

func newProcessModel(
	p *TradeProtocol, trade *domain.Trade, msg domain.Message,
	sender domain.NodeAddress, senderRole domain.PeerRole,
) *ProcessModel {
	return &ProcessModel{
		Trade:      trade,
		Message:    msg,
		Sender:     sender,
		SenderRole: senderRole,
		svc:        p.svc,
		cfg:        p.cfg,
		protocol:   p,
	}
}

// close marks the run as over, late callbacks and writes are ignored from
// now on.
func (pm *ProcessModel) close() {
	pm.lock.Lock()
	defer pm.lock.Unlock()
	pm.closed.Store(true)
}

func (pm *ProcessModel) isClosed() bool {
	return pm.closed.Load()
}

// apply runs fn only if the run is still in progress.
func (pm *ProcessModel) apply(fn func()) bool {
	pm.lock.Lock()
	defer pm.lock.Unlock()
	if pm.closed.Load() {
		return false
	}
	fn()
	return true
}

// multisigWallet returns the multisig wallet of the trade, opened the first
// time it's needed.
func (pm *ProcessModel) multisigWallet(ctx context.Context) (ports.MultisigWallet, error) {
	if pm.isClosed() {
		return nil, errRunClosed
	}
	return pm.protocol.multisigWallet(ctx, pm.Trade.ID)
}

// updatePeer is a shortcut for pm.Trade.UpdatePeer.
func (pm *ProcessModel) updatePeer(
	role domain.PeerRole, fn func(p domain.Peer) (domain.Peer, error),
) error {
	if pm.isClosed() {
		return errRunClosed
	}
	return pm.Trade.UpdatePeer(role, fn)
}

// setState moves the working trade to the given state. Invalid transitions
// are logged and ignored.
func (pm *ProcessModel) setState(state domain.State) {
	if pm.isClosed() {
		return
	}
	if err := pm.Trade.SetState(state); err != nil {
		logger(pm.Trade).WithError(err).Warn("ignoring state change")
	}
}

func (pm *ProcessModel) self() domain.Peer {
	return pm.Trade.Self()
}

func (pm *ProcessModel) selfInfo() domain.MessageInfo {
	return domain.NewMessageInfo(
		pm.Trade.ID, pm.svc.P2P.Address(), pm.svc.KeyRing.PubKeyRing(),
	)
}
