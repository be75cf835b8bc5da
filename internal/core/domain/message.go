package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the version of the trade protocol spoken by this node.
const ProtocolVersion = 1

// MessageType identifies the kind of a protocol message.
type MessageType string

const (
	MsgInitTradeRequest     MessageType = "INIT_TRADE_REQUEST"
	MsgInitMultisigRequest  MessageType = "INIT_MULTISIG_REQUEST"
	MsgSignContractRequest  MessageType = "SIGN_CONTRACT_REQUEST"
	MsgSignContractResponse MessageType = "SIGN_CONTRACT_RESPONSE"
	MsgDepositRequest       MessageType = "DEPOSIT_REQUEST"
	MsgDepositResponse      MessageType = "DEPOSIT_RESPONSE"
	MsgDepositsConfirmed    MessageType = "DEPOSITS_CONFIRMED"
	MsgPaymentSent          MessageType = "PAYMENT_SENT"
	MsgPaymentReceived      MessageType = "PAYMENT_RECEIVED"
	MsgAck                  MessageType = "ACK"
	// Dispute messages are handled elsewhere, only their mailbox priority
	// is known here.
	MsgDisputeOpened MessageType = "DISPUTE_OPENED"
	MsgDisputeClosed MessageType = "DISPUTE_CLOSED"
)

// IsMailboxMessage returns whether messages of this type are delivered
// through the mailbox when the receiver is offline.
func (t MessageType) IsMailboxMessage() bool {
	switch t {
	case MsgDepositsConfirmed, MsgPaymentSent, MsgPaymentReceived,
		MsgDisputeOpened, MsgDisputeClosed:
		return true
	default:
		return false
	}
}

// Message is implemented by every protocol message.
type Message interface {
	Type() MessageType
	Info() MessageInfo
}

// MessageInfo is the header shared by all protocol messages.
type MessageInfo struct {
	TradeID           string
	UID               string
	ProtocolVersion   int
	Timestamp         int64
	SenderNodeAddress NodeAddress
	SenderPubKeyRing  PubKeyRing
}

func (m MessageInfo) Info() MessageInfo {
	return m
}

// NewMessageInfo returns a header with a random uid.
func NewMessageInfo(
	tradeID string, sender NodeAddress, senderKeys PubKeyRing,
) MessageInfo {
	return MessageInfo{
		TradeID:           tradeID,
		UID:               uuid.New().String(),
		ProtocolVersion:   ProtocolVersion,
		Timestamp:         time.Now().UnixMilli(),
		SenderNodeAddress: sender,
		SenderPubKeyRing:  senderKeys,
	}
}

var uidNamespace = uuid.MustParse("5b1c9f0e-2a8d-4c4e-9a57-6f1d3b0c7e21")

// DeterministicUID returns the uid of a message identified by trade, type and
// receiver. Resending the same message yields the same uid so that the
// receiver's mailbox never holds duplicates.
func DeterministicUID(
	tradeID string, msgType MessageType, receiver NodeAddress,
) string {
	name := tradeID + "|" + string(msgType) + "|" + string(receiver)
	return uuid.NewSHA1(uidNamespace, []byte(name)).String()
}

// InitTradeRequest starts a trade. It travels taker -> maker -> arbitrator or
// taker -> arbitrator -> maker -> arbitrator depending on the trade direction,
// each hop filling in its own reserve transaction.
type InitTradeRequest struct {
	MessageInfo
	Offer                 Offer
	TradeAmount           uint64
	TakerNodeAddress      NodeAddress
	TakerPubKeyRing       PubKeyRing
	TakerAccountID        string
	TakerPaymentMethodID  string
	TakerReserveTx        TxRef
	MakerAccountID        string
	MakerPaymentMethodID  string
	MakerReserveTx        TxRef
	ArbitratorNodeAddress NodeAddress
}

func (InitTradeRequest) Type() MessageType { return MsgInitTradeRequest }

// InitMultisigRequest carries the sender's latest multisig material.
type InitMultisigRequest struct {
	MessageInfo
	PreparedMultisigHex  string
	MadeMultisigHex      string
	ExchangedMultisigHex string
}

func (InitMultisigRequest) Type() MessageType { return MsgInitMultisigRequest }

// SignContractRequest carries the trade terms of the sending trader.
type SignContractRequest struct {
	MessageInfo
	AccountID                 string
	PaymentMethodID           string
	PaymentAccountPayloadHash []byte
	PayoutAddress             string
	DepositTxHash             string
	AccountAgeWitness         *AccountAgeWitness
}

func (SignContractRequest) Type() MessageType { return MsgSignContractRequest }

// SignContractResponse carries the sender's contract signature and, for
// traders, the encrypted payment account payload.
type SignContractResponse struct {
	MessageInfo
	ContractAsJSON                 string
	ContractSignature              []byte
	EncryptedPaymentAccountPayload []byte
}

func (SignContractResponse) Type() MessageType { return MsgSignContractResponse }

// DepositRequest asks the arbitrator to publish the sender's deposit tx.
type DepositRequest struct {
	MessageInfo
	ContractSignature []byte
	DepositTx         TxRef
	PaymentAccountKey []byte
}

func (DepositRequest) Type() MessageType { return MsgDepositRequest }

// DepositResponse notifies the traders of the deposit relay outcome.
type DepositResponse struct {
	MessageInfo
	ErrorMessage          string
	BuyerSecurityDeposit  uint64
	SellerSecurityDeposit uint64
}

func (DepositResponse) Type() MessageType { return MsgDepositResponse }

// DepositsConfirmedMessage notifies that the deposits are confirmed. The
// seller's payment account key is attached by the seller and the
// arbitrator, the security deposits by the arbitrator only.
type DepositsConfirmedMessage struct {
	MessageInfo
	SellerPaymentAccountKey []byte
	UpdatedMultisigHex      string
	BuyerSecurityDeposit    uint64
	SellerSecurityDeposit   uint64
}

func (DepositsConfirmedMessage) Type() MessageType { return MsgDepositsConfirmed }

// PaymentSentMessage notifies that the buyer started the payment.
type PaymentSentMessage struct {
	MessageInfo
	PayoutTxHex            string
	BuyerPaymentAccountKey []byte
	UpdatedMultisigHex     string
}

func (PaymentSentMessage) Type() MessageType { return MsgPaymentSent }

// PaymentReceivedMessage notifies that the seller received the payment and
// published the payout tx.
type PaymentReceivedMessage struct {
	MessageInfo
	SignedPayoutTxHex  string
	PayoutTxHash       string
	UpdatedMultisigHex string
}

func (PaymentReceivedMessage) Type() MessageType { return MsgPaymentReceived }

// AckMessage acknowledges, or refuses if Success is false, a message.
type AckMessage struct {
	MessageInfo
	SourceUID    string
	SourceType   MessageType
	Success      bool
	ErrorMessage string
}

func (AckMessage) Type() MessageType { return MsgAck }

// NewAckMessage returns the ack for the given source message.
func NewAckMessage(
	source Message, sender NodeAddress, senderKeys PubKeyRing, err error,
) *AckMessage {
	info := source.Info()
	ack := &AckMessage{
		MessageInfo: NewMessageInfo(info.TradeID, sender, senderKeys),
		SourceUID:   info.UID,
		SourceType:  source.Type(),
		Success:     err == nil,
	}
	if err != nil {
		ack.ErrorMessage = err.Error()
	}
	return ack
}
