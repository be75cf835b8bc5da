package p2pinmemory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	p2pinmemory "github.com/tdex-network/tdex-escrow/internal/infrastructure/p2p/inmemory"
)

const (
	aliceAddr = domain.NodeAddress("alice:9999")
	bobAddr   = domain.NodeAddress("bob:9999")
)

var (
	aliceKeys = domain.PubKeyRing{SignaturePubKey: []byte{1}, EncryptionPubKey: []byte{2}}
	bobKeys   = domain.PubKeyRing{SignaturePubKey: []byte{3}, EncryptionPubKey: []byte{4}}
)

type outcome struct {
	arrived bool
	stored  bool
	err     error
}

func listen() (ports.SendListener, chan outcome) {
	ch := make(chan outcome, 1)
	return ports.SendListener{
		OnArrived:         func() { ch <- outcome{arrived: true} },
		OnStoredInMailbox: func() { ch <- outcome{stored: true} },
		OnFault:           func(err error) { ch <- outcome{err: err} },
	}, ch
}

func waitOutcome(t *testing.T, ch chan outcome) outcome {
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for send outcome")
		return outcome{}
	}
}

func newTestNetwork(t *testing.T) (*p2pinmemory.Network, *p2pinmemory.Node, *p2pinmemory.Node) {
	network := p2pinmemory.NewNetwork()
	alice, err := network.AddNode(aliceAddr, aliceKeys)
	require.NoError(t, err)
	bob, err := network.AddNode(bobAddr, bobKeys)
	require.NoError(t, err)
	t.Cleanup(network.Close)
	return network, alice, bob
}

func newAck(uid string) *domain.AckMessage {
	info := domain.NewMessageInfo("trade", aliceAddr, aliceKeys)
	if uid != "" {
		info.UID = uid
	}
	return &domain.AckMessage{
		MessageInfo: info,
		SourceUID:   "source",
		SourceType:  domain.MsgPaymentSent,
		Success:     true,
	}
}

func TestSendDirect(t *testing.T) {
	t.Parallel()

	network, alice, bob := newTestNetwork(t)

	received := make(chan domain.Message, 10)
	bob.SetMessageHandler(func(_ context.Context, msg domain.Message, sender domain.NodeAddress) {
		require.Equal(t, aliceAddr, sender)
		received <- msg
	})

	ctx := context.Background()
	numOfMessages := 5
	uids := make([]string, 0, numOfMessages)
	for i := 0; i < numOfMessages; i++ {
		msg := newAck("")
		uids = append(uids, msg.UID)
		listener, ch := listen()
		alice.SendDirect(ctx, bobAddr, bobKeys, msg, listener)
		require.True(t, waitOutcome(t, ch).arrived)
	}

	for i := 0; i < numOfMessages; i++ {
		select {
		case msg := <-received:
			require.Equal(t, uids[i], msg.Info().UID)
			require.Equal(t, domain.MsgAck, msg.Type())
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for message")
		}
	}
	require.Equal(t, numOfMessages, network.SentCount(aliceAddr, bobAddr, domain.MsgAck))
}

func TestSendDirectFailures(t *testing.T) {
	t.Parallel()

	network, alice, _ := newTestNetwork(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		receiver    domain.NodeAddress
		keys        domain.PubKeyRing
		offline     bool
		expectedErr error
	}{
		{
			name:        "unknown peer",
			receiver:    "carol:9999",
			expectedErr: p2pinmemory.ErrUnknownPeer,
		},
		{
			name:        "wrong receiver keys",
			receiver:    bobAddr,
			keys:        aliceKeys,
			expectedErr: p2pinmemory.ErrReceiverKeyMismatch,
		},
		{
			name:        "offline peer",
			receiver:    bobAddr,
			keys:        bobKeys,
			offline:     true,
			expectedErr: p2pinmemory.ErrPeerOffline,
		},
	}

	for _, tt := range tests {
		if tt.offline {
			require.NoError(t, network.SetOnline(tt.receiver, false))
		}
		listener, ch := listen()
		alice.SendDirect(ctx, tt.receiver, tt.keys, newAck(""), listener)
		o := waitOutcome(t, ch)
		require.Truef(t, errors.Is(o.err, tt.expectedErr), "%s: got %v", tt.name, o.err)
	}
	require.Zero(t, network.SentCount(aliceAddr, bobAddr, domain.MsgAck))
}

func TestDropFilter(t *testing.T) {
	t.Parallel()

	network, alice, bob := newTestNetwork(t)
	ctx := context.Background()
	network.SetDropFilter(func(from, to domain.NodeAddress, msg domain.Message) bool {
		return from == aliceAddr && msg.Type() == domain.MsgAck
	})

	listener, ch := listen()
	alice.SendMailbox(ctx, bobAddr, bobKeys, newAck(""), listener)
	require.ErrorIs(t, waitOutcome(t, ch).err, p2pinmemory.ErrMessageLost)
	require.Zero(t, network.SentCount(aliceAddr, bobAddr, domain.MsgAck))
	items, err := bob.MailboxItems(ctx)
	require.NoError(t, err)
	require.Empty(t, items)

	network.SetDropFilter(nil)
	listener, ch = listen()
	alice.SendDirect(ctx, bobAddr, bobKeys, newAck(""), listener)
	require.True(t, waitOutcome(t, ch).arrived)
}

func TestSendMailbox(t *testing.T) {
	t.Parallel()

	network, alice, bob := newTestNetwork(t)
	ctx := context.Background()

	var mu sync.Mutex
	var received []domain.Message
	bob.SetMessageHandler(func(_ context.Context, msg domain.Message, _ domain.NodeAddress) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, msg)
	})

	require.NoError(t, network.SetOnline(bobAddr, false))

	// Resends of the same message occupy a single mailbox slot.
	for i := 0; i < 3; i++ {
		listener, ch := listen()
		alice.SendMailbox(ctx, bobAddr, bobKeys, newAck("resent-uid"), listener)
		require.True(t, waitOutcome(t, ch).stored)
	}
	listener, ch := listen()
	alice.SendMailbox(ctx, bobAddr, bobKeys, newAck("other-uid"), listener)
	require.True(t, waitOutcome(t, ch).stored)

	require.Equal(t, 4, network.SentCount(aliceAddr, bobAddr, domain.MsgAck))

	items, err := bob.MailboxItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "resent-uid", items[0].UID)
	require.Equal(t, "other-uid", items[1].UID)
	require.Equal(t, aliceAddr, items[0].Sender)

	require.NoError(t, bob.RemoveMailboxItem(ctx, "resent-uid"))
	items, err = bob.MailboxItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, network.SetOnline(bobAddr, true))
	listener, ch = listen()
	alice.SendMailbox(ctx, bobAddr, bobKeys, newAck(""), listener)
	require.True(t, waitOutcome(t, ch).arrived)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 5*time.Second, 10*time.Millisecond)
}
