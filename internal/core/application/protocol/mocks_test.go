package protocol

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
)

// mockP2P resolves every send as arrived.
type mockP2P struct {
	mock.Mock
}

func (m *mockP2P) Address() domain.NodeAddress {
	return m.Called().Get(0).(domain.NodeAddress)
}

func (m *mockP2P) SendDirect(
	_ context.Context, receiver domain.NodeAddress, _ domain.PubKeyRing,
	msg domain.Message, listener ports.SendListener,
) {
	m.Called(receiver, msg)
	if listener.OnArrived != nil {
		go listener.OnArrived()
	}
}

func (m *mockP2P) SendMailbox(
	_ context.Context, receiver domain.NodeAddress, _ domain.PubKeyRing,
	msg domain.Message, listener ports.SendListener,
) {
	m.Called(receiver, msg)
	if listener.OnArrived != nil {
		go listener.OnArrived()
	}
}

func (m *mockP2P) MailboxItems(context.Context) ([]domain.MailboxItem, error) {
	args := m.Called()
	var res []domain.MailboxItem
	if a := args.Get(0); a != nil {
		res = a.([]domain.MailboxItem)
	}
	return res, args.Error(1)
}

func (m *mockP2P) RemoveMailboxItem(_ context.Context, uid string) error {
	return m.Called(uid).Error(0)
}

func (m *mockP2P) SetMessageHandler(ports.MessageHandler) {
	m.Called()
}

// mockWallet mocks the wallet calls made by the deposit tasks, any other
// call panics.
type mockWallet struct {
	mock.Mock
	ports.WalletService
}

func (m *mockWallet) CreateDepositTx(
	_ context.Context, tradeID, multisigAddress string, amount uint64,
) (domain.TxRef, error) {
	args := m.Called(tradeID, multisigAddress, amount)
	return args.Get(0).(domain.TxRef), args.Error(1)
}

type testKeyRing struct {
	ports.KeyRing
}

func (testKeyRing) PubKeyRing() domain.PubKeyRing {
	return domain.PubKeyRing{
		SignaturePubKey: []byte{7}, EncryptionPubKey: []byte{8},
	}
}

type noArbitrators struct {
	ports.ArbitratorRegistry
}

type noAccountAge struct {
	ports.AccountAgeWitnessService
}
