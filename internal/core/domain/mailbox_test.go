package domain_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

func TestSortMailboxItems(t *testing.T) {
	t.Parallel()

	newInfo := func(ts int64) domain.MessageInfo {
		info := domain.NewMessageInfo("trade", "peer:1", domain.PubKeyRing{})
		info.Timestamp = ts
		return info
	}

	items := []domain.MailboxItem{
		{UID: "received", Message: &domain.PaymentReceivedMessage{MessageInfo: newInfo(1)}},
		{UID: "sent", Message: &domain.PaymentSentMessage{MessageInfo: newInfo(2)}},
		{UID: "ack-late", Message: &domain.AckMessage{MessageInfo: newInfo(9)}},
		{UID: "confirmed", Message: &domain.DepositsConfirmedMessage{MessageInfo: newInfo(3)}},
		{UID: "ack-early", Message: &domain.AckMessage{MessageInfo: newInfo(4)}},
		{UID: "other", Message: &domain.InitMultisigRequest{MessageInfo: newInfo(0)}},
	}

	domain.SortMailboxItems(items)

	uids := make([]string, 0, len(items))
	for _, item := range items {
		uids = append(uids, item.UID)
	}
	require.Equal(t, []string{
		"ack-early", "ack-late", "confirmed", "sent", "received", "other",
	}, uids)
}

func TestMailboxPriority(t *testing.T) {
	t.Parallel()

	ordered := []domain.MessageType{
		domain.MsgAck,
		domain.MsgDepositsConfirmed,
		domain.MsgPaymentSent,
		domain.MsgPaymentReceived,
		domain.MsgDisputeOpened,
		domain.MsgDisputeClosed,
		domain.MsgInitTradeRequest,
	}
	for i := 1; i < len(ordered); i++ {
		require.Less(
			t, domain.MailboxPriority(ordered[i-1]), domain.MailboxPriority(ordered[i]),
		)
	}
}
