package ports

import (
	"context"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

// SendListener is notified about the outcome of a send. Callbacks are
// invoked at most once each, from a goroutine other than the caller's.
type SendListener struct {
	OnArrived         func()
	OnStoredInMailbox func()
	OnFault           func(err error)
}

// MessageHandler is invoked for every message received directly.
type MessageHandler func(ctx context.Context, msg domain.Message, sender domain.NodeAddress)

// P2PService is the encrypted transport between nodes.
type P2PService interface {
	Address() domain.NodeAddress
	// SendDirect delivers the message only if the receiver is online.
	SendDirect(
		ctx context.Context, receiver domain.NodeAddress,
		receiverKeys domain.PubKeyRing, msg domain.Message, listener SendListener,
	)
	// SendMailbox delivers the message if the receiver is online, otherwise
	// stores it in the receiver's mailbox. Messages with the same uid
	// occupy the same mailbox slot.
	SendMailbox(
		ctx context.Context, receiver domain.NodeAddress,
		receiverKeys domain.PubKeyRing, msg domain.Message, listener SendListener,
	)
	MailboxItems(ctx context.Context) ([]domain.MailboxItem, error)
	RemoveMailboxItem(ctx context.Context, uid string) error
	SetMessageHandler(handler MessageHandler)
}
