package domain

import "sort"

// MailboxItem is a message stored for the local node while it was offline.
type MailboxItem struct {
	UID     string
	Sender  NodeAddress
	Message Message
}

var mailboxPriority = map[MessageType]int{
	MsgAck:               0,
	MsgDepositsConfirmed: 1,
	MsgPaymentSent:       2,
	MsgPaymentReceived:   3,
	MsgDisputeOpened:     4,
	MsgDisputeClosed:     5,
}

// MailboxPriority returns the replay priority of the given message type,
// lower goes first.
func MailboxPriority(t MessageType) int {
	if p, ok := mailboxPriority[t]; ok {
		return p
	}
	return len(mailboxPriority)
}

// SortMailboxItems orders the items in protocol order: by priority first,
// then by timestamp.
func SortMailboxItems(items []MailboxItem) {
	sort.SliceStable(items, func(i, j int) bool {
		pi := MailboxPriority(items[i].Message.Type())
		pj := MailboxPriority(items[j].Message.Type())
		if pi != pj {
			return pi < pj
		}
		return items[i].Message.Info().Timestamp < items[j].Message.Info().Timestamp
	})
}
