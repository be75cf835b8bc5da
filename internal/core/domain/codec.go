package domain

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

var messageFactories = map[MessageType]func() Message{
	MsgInitTradeRequest:     func() Message { return &InitTradeRequest{} },
	MsgInitMultisigRequest:  func() Message { return &InitMultisigRequest{} },
	MsgSignContractRequest:  func() Message { return &SignContractRequest{} },
	MsgSignContractResponse: func() Message { return &SignContractResponse{} },
	MsgDepositRequest:       func() Message { return &DepositRequest{} },
	MsgDepositResponse:      func() Message { return &DepositResponse{} },
	MsgDepositsConfirmed:    func() Message { return &DepositsConfirmedMessage{} },
	MsgPaymentSent:          func() Message { return &PaymentSentMessage{} },
	MsgPaymentReceived:      func() Message { return &PaymentReceivedMessage{} },
	MsgAck:                  func() Message { return &AckMessage{} },
}

// EncodeMessage serializes the message into a typed json envelope.
func EncodeMessage(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, NewInvalidArgumentError("missing message")
	}
	if _, ok := messageFactories[msg.Type()]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessageType, msg.Type())
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", msg.Type(), err)
	}
	return json.Marshal(envelope{Type: msg.Type(), Payload: payload})
}

// DecodeMessage deserializes a message encoded with EncodeMessage. Messages
// with a different protocol version are rejected.
func DecodeMessage(b []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, NewInvalidArgumentError("malformed envelope: %s", err)
	}
	factory, ok := messageFactories[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
	msg := factory()
	if err := json.Unmarshal(env.Payload, msg); err != nil {
		return nil, NewInvalidArgumentError(
			"malformed %s payload: %s", env.Type, err,
		)
	}
	if v := msg.Info().ProtocolVersion; v != ProtocolVersion {
		return nil, fmt.Errorf(
			"%w: got %d, expected %d", ErrUnsupportedProtocolVersion, v,
			ProtocolVersion,
		)
	}
	if msg.Info().TradeID == "" {
		return nil, NewInvalidArgumentError("message without trade id")
	}
	return msg, nil
}
