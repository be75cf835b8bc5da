package trade_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-escrow/internal/core/application/protocol"
	"github.com/tdex-network/tdex-escrow/internal/core/application/trade"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/accountage"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/keyring"
	dbinmemory "github.com/tdex-network/tdex-escrow/internal/infrastructure/storage/db/inmemory"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/wallet/simulated"
)

type mockP2P struct {
	mock.Mock
}

func (m *mockP2P) Address() domain.NodeAddress {
	return m.Called().Get(0).(domain.NodeAddress)
}

func (m *mockP2P) SendDirect(
	_ context.Context, receiver domain.NodeAddress, _ domain.PubKeyRing,
	msg domain.Message, _ ports.SendListener,
) {
	m.Called(receiver, msg)
}

func (m *mockP2P) SendMailbox(
	_ context.Context, receiver domain.NodeAddress, _ domain.PubKeyRing,
	msg domain.Message, _ ports.SendListener,
) {
	m.Called(receiver, msg)
}

func (m *mockP2P) MailboxItems(context.Context) ([]domain.MailboxItem, error) {
	args := m.Called()
	return args.Get(0).([]domain.MailboxItem), args.Error(1)
}

func (m *mockP2P) RemoveMailboxItem(_ context.Context, uid string) error {
	return m.Called(uid).Error(0)
}

func (m *mockP2P) SetMessageHandler(ports.MessageHandler) {
	m.Called()
}

func TestProcessMailboxReplayOrder(t *testing.T) {
	t.Parallel()

	info := func(ts int64) domain.MessageInfo {
		i := domain.NewMessageInfo("closed-trade", "peer.onion:9999", domain.PubKeyRing{})
		i.Timestamp = ts
		return i
	}
	paymentReceived := &domain.PaymentReceivedMessage{MessageInfo: info(1)}
	latePaymentSent := &domain.PaymentSentMessage{MessageInfo: info(4)}
	depositsConfirmed := &domain.DepositsConfirmedMessage{MessageInfo: info(3)}
	earlyPaymentSent := &domain.PaymentSentMessage{MessageInfo: info(2)}
	ack := &domain.AckMessage{MessageInfo: info(5), SourceType: domain.MsgPaymentSent}

	items := make([]domain.MailboxItem, 0)
	for _, msg := range []domain.Message{
		paymentReceived, latePaymentSent, depositsConfirmed, earlyPaymentSent, ack,
	} {
		items = append(items, domain.MailboxItem{
			UID: msg.Info().UID, Sender: "peer.onion:9999", Message: msg,
		})
	}

	var lock sync.Mutex
	replayed := make([]string, 0)
	p2p := &mockP2P{}
	p2p.On("Address").Return(domain.NodeAddress("self.onion:9999")).Maybe()
	p2p.On("SetMessageHandler").Return()
	p2p.On("MailboxItems").Return(items, nil)
	p2p.On("RemoveMailboxItem", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		lock.Lock()
		defer lock.Unlock()
		replayed = append(replayed, args.String(0))
	})

	svc := newMockedService(t, p2p)
	require.NoError(t, svc.Start(ctx))
	t.Cleanup(svc.Stop)

	lock.Lock()
	defer lock.Unlock()
	require.Equal(t, []string{
		ack.UID,
		depositsConfirmed.UID,
		earlyPaymentSent.UID,
		latePaymentSent.UID,
		paymentReceived.UID,
	}, replayed)
	p2p.AssertExpectations(t)
}

func newMockedService(t *testing.T, p2p ports.P2PService) *trade.Service {
	keys, err := keyring.NewKeyRing()
	require.NoError(t, err)
	wallet, err := simulated.NewWallet(simulated.NewChain(), "self", 0)
	require.NoError(t, err)
	age, err := accountage.NewService(accountage.NewRegistry(), keys, 0)
	require.NoError(t, err)
	methods, err := domain.NewPaymentMethods(domain.DefaultPaymentMethods)
	require.NoError(t, err)

	svc, err := trade.NewService(protocol.Services{
		Wallet:         wallet,
		P2P:            p2p,
		KeyRing:        keys,
		Arbitrators:    keyring.NewArbitratorRegistry(),
		AccountAge:     age,
		Repository:     dbinmemory.NewRepoManager().TradeRepository(),
		PaymentMethods: methods,
	}, nil, testConfig())
	require.NoError(t, err)
	return svc
}
