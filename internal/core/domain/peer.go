package domain

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// Peer is the snapshot of what is known about one of the three parties of a
// trade. It is treated as a value, updates go through Trade.UpdatePeer.
type Peer struct {
	NodeAddress                    NodeAddress
	PubKeyRing                     PubKeyRing
	AccountID                      string
	PaymentMethodID                string
	PaymentAccountPayloadHash      []byte
	EncryptedPaymentAccountPayload []byte
	PaymentAccountKey              []byte
	PaymentAccountPayload          *PaymentAccountPayload
	PayoutAddress                  string
	ReserveTx                      TxRef
	DepositTx                      TxRef
	DepositTxFee                   uint64
	SecurityDeposit                uint64
	PreparedMultisigHex            string
	MadeMultisigHex                string
	ExchangedMultisigHex           string
	UpdatedMultisigHex             string
	ContractSignature              []byte
	AccountAgeWitness              *AccountAgeWitness
	Acks                           map[MessageType]AckState
}

// Clone returns a deep copy of the peer.
func (p Peer) Clone() Peer {
	c := p
	c.PubKeyRing = p.PubKeyRing.clone()
	c.PaymentAccountPayloadHash = cloneBytes(p.PaymentAccountPayloadHash)
	c.EncryptedPaymentAccountPayload = cloneBytes(p.EncryptedPaymentAccountPayload)
	c.PaymentAccountKey = cloneBytes(p.PaymentAccountKey)
	c.ContractSignature = cloneBytes(p.ContractSignature)
	if p.PaymentAccountPayload != nil {
		payload := *p.PaymentAccountPayload
		payload.Salt = cloneBytes(p.PaymentAccountPayload.Salt)
		if p.PaymentAccountPayload.Data != nil {
			payload.Data = make(map[string]string, len(p.PaymentAccountPayload.Data))
			for k, v := range p.PaymentAccountPayload.Data {
				payload.Data[k] = v
			}
		}
		c.PaymentAccountPayload = &payload
	}
	if p.AccountAgeWitness != nil {
		w := *p.AccountAgeWitness
		w.Hash = cloneBytes(p.AccountAgeWitness.Hash)
		w.Signature = cloneBytes(p.AccountAgeWitness.Signature)
		c.AccountAgeWitness = &w
	}
	if p.Acks != nil {
		c.Acks = make(map[MessageType]AckState, len(p.Acks))
		for k, v := range p.Acks {
			c.Acks[k] = v
		}
	}
	return c
}

// WithIdentity returns a copy of the peer with the given network identity.
// Empty arguments leave the current values untouched. Once set, the pub key
// ring can't be replaced by a different one.
func (p Peer) WithIdentity(addr NodeAddress, ring PubKeyRing) (Peer, error) {
	if !ring.IsEmpty() && !p.PubKeyRing.IsEmpty() && !p.PubKeyRing.Equal(ring) {
		return p, ErrPeerIdentityMismatch
	}
	c := p.Clone()
	if addr != "" {
		c.NodeAddress = addr
	}
	if !ring.IsEmpty() {
		c.PubKeyRing = ring.clone()
	}
	return c, nil
}

// WithMultisig merges the given multisig material into a copy of the peer.
// Empty blobs are ignored. A blob different from the one already stored for
// the same stage makes the method fail with ErrMultisigMismatch.
func (p Peer) WithMultisig(prepared, made, exchanged string) (Peer, error) {
	stages := []struct {
		name     string
		current  string
		incoming string
	}{
		{"prepared", p.PreparedMultisigHex, prepared},
		{"made", p.MadeMultisigHex, made},
		{"exchanged", p.ExchangedMultisigHex, exchanged},
	}
	for _, s := range stages {
		if s.incoming != "" && s.current != "" && s.incoming != s.current {
			return p, fmt.Errorf("%w: %s blob changed", ErrMultisigMismatch, s.name)
		}
	}

	c := p.Clone()
	if prepared != "" {
		c.PreparedMultisigHex = prepared
	}
	if made != "" {
		c.MadeMultisigHex = made
	}
	if exchanged != "" {
		c.ExchangedMultisigHex = exchanged
	}
	return c, nil
}

// WithAck returns a copy of the peer with the ack state of the given message
// type replaced.
func (p Peer) WithAck(msgType MessageType, state AckState) Peer {
	c := p.Clone()
	if c.Acks == nil {
		c.Acks = make(map[MessageType]AckState)
	}
	c.Acks[msgType] = state
	return c
}

// Ack returns the ack state of the given message type.
func (p Peer) Ack(msgType MessageType) AckState {
	if p.Acks == nil {
		return AckState{}
	}
	return p.Acks[msgType]
}

// IsAcked returns whether the peer acked the given message type.
func (p Peer) IsAcked(msgType MessageType) bool {
	return p.Ack(msgType).Acked
}

// Hash returns the commitment to the payment account payload.
func (p PaymentAccountPayload) Hash() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	h := sha256.Sum256(b)
	return h[:], nil
}
