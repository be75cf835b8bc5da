package simulated

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
)

const (
	numOfParties       = 3
	requiredSignatures = 2
	// A partially signed input has the witness
	// [dummy, slot0, slot1, slot2, script], one slot per sorted pubkey.
	partialWitnessLen = numOfParties + 2
	finalWitnessLen   = requiredSignatures + 2
)

var (
	// ErrMultisigNotReady is returned when a multisig operation runs before
	// the step it depends on.
	ErrMultisigNotReady = errors.New("multisig wallet not ready")
	// ErrMultisigNotFunded is returned when no deposit to the multisig
	// address is found on chain.
	ErrMultisigNotFunded = errors.New("multisig wallet not funded")
	// ErrMissingSignatures is returned when publishing a payout tx that
	// is not signed by enough parties.
	ErrMissingSignatures = errors.New("missing payout tx signatures")
)

// multisigWallet is the 2-of-3 p2wsh wallet of a single trade.
type multisigWallet struct {
	chain   *Chain
	tradeID string

	lock     sync.Mutex
	key      *btcec.PrivateKey
	pubKeys  [][]byte
	script   []byte
	pkScript []byte
	address  string
	imported map[string]bool
}

func newMultisigWallet(chain *Chain, tradeID string) *multisigWallet {
	return &multisigWallet{
		chain:    chain,
		tradeID:  tradeID,
		imported: make(map[string]bool),
	}
}

// PrepareMultisig returns the local pubkey.
func (m *multisigWallet) PrepareMultisig(_ context.Context) (string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.key == nil {
		key, err := btcec.NewPrivateKey()
		if err != nil {
			return "", err
		}
		m.key = key
	}
	return hex.EncodeToString(m.key.PubKey().SerializeCompressed()), nil
}

// MakeMultisig builds the 2-of-3 script from the local pubkey and the ones
// of the other parties.
func (m *multisigWallet) MakeMultisig(
	_ context.Context, preparedHexes []string,
) (string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.key == nil {
		return "", fmt.Errorf("%w: multisig not prepared", ErrMultisigNotReady)
	}
	if len(preparedHexes) != numOfParties-1 {
		return "", domain.NewInvalidArgumentError(
			"expected %d prepared multisig hexes, got %d",
			numOfParties-1, len(preparedHexes),
		)
	}

	pubKeys := [][]byte{m.key.PubKey().SerializeCompressed()}
	for _, h := range preparedHexes {
		b, err := hex.DecodeString(h)
		if err != nil {
			return "", domain.NewInvalidArgumentError("malformed prepared multisig hex")
		}
		if _, err := btcec.ParsePubKey(b); err != nil {
			return "", domain.NewInvalidArgumentError("invalid multisig pubkey: %s", err)
		}
		pubKeys = append(pubKeys, b)
	}
	sort.Slice(pubKeys, func(i, j int) bool {
		return bytes.Compare(pubKeys[i], pubKeys[j]) < 0
	})
	for i := 1; i < len(pubKeys); i++ {
		if bytes.Equal(pubKeys[i-1], pubKeys[i]) {
			return "", domain.NewInvalidArgumentError("duplicated multisig pubkey")
		}
	}

	addrs := make([]*btcutil.AddressPubKey, 0, len(pubKeys))
	for _, pubKey := range pubKeys {
		addr, err := btcutil.NewAddressPubKey(pubKey, m.chain.Params())
		if err != nil {
			return "", err
		}
		addrs = append(addrs, addr)
	}
	script, err := txscript.MultiSigScript(addrs, requiredSignatures)
	if err != nil {
		return "", err
	}
	if m.script != nil && !bytes.Equal(m.script, script) {
		return "", fmt.Errorf("%w: multisig already made", domain.ErrMultisigMismatch)
	}

	m.pubKeys = pubKeys
	m.script = script
	return hex.EncodeToString(script), nil
}

// ExchangeMultisigKeys checks that the other parties made the same script
// and derives the multisig address.
func (m *multisigWallet) ExchangeMultisigKeys(
	_ context.Context, madeHexes []string,
) (*ports.MultisigExchange, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.script == nil {
		return nil, fmt.Errorf("%w: multisig not made", ErrMultisigNotReady)
	}
	if len(madeHexes) != numOfParties-1 {
		return nil, domain.NewInvalidArgumentError(
			"expected %d made multisig hexes, got %d", numOfParties-1, len(madeHexes),
		)
	}
	own := hex.EncodeToString(m.script)
	for _, h := range madeHexes {
		if h != own {
			return nil, domain.ErrMultisigMismatch
		}
	}

	prog := sha256.Sum256(m.script)
	addr, err := btcutil.NewAddressWitnessScriptHash(prog[:], m.chain.Params())
	if err != nil {
		return nil, err
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}
	m.pkScript = pkScript
	m.address = addr.EncodeAddress()

	return &ports.MultisigExchange{
		Address: m.address,
		Hex:     hex.EncodeToString(prog[:]),
	}, nil
}

// ExportMultisigHex returns the local pubkey bound to the witness program
// of the multisig.
func (m *multisigWallet) ExportMultisigHex(_ context.Context) (string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.pkScript == nil {
		return "", fmt.Errorf("%w: multisig keys not exchanged", ErrMultisigNotReady)
	}
	prog := sha256.Sum256(m.script)
	data := append(m.key.PubKey().SerializeCompressed(), prog[:]...)
	return hex.EncodeToString(data), nil
}

// ImportMultisigHex imports the data exported by the other parties.
func (m *multisigWallet) ImportMultisigHex(_ context.Context, hexes []string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.pkScript == nil {
		return fmt.Errorf("%w: multisig keys not exchanged", ErrMultisigNotReady)
	}
	prog := sha256.Sum256(m.script)
	own := m.key.PubKey().SerializeCompressed()

	for _, h := range hexes {
		data, err := hex.DecodeString(h)
		if err != nil || len(data) != btcec.PubKeyBytesLenCompressed+sha256.Size {
			return domain.NewInvalidArgumentError("malformed multisig hex")
		}
		pubKey := data[:btcec.PubKeyBytesLenCompressed]
		if !bytes.Equal(data[btcec.PubKeyBytesLenCompressed:], prog[:]) {
			return domain.NewInvalidArgumentError("multisig hex of another wallet")
		}
		if bytes.Equal(pubKey, own) || m.slot(pubKey) < 0 {
			return domain.NewInvalidArgumentError("multisig hex of unknown party")
		}
		m.imported[hex.EncodeToString(pubKey)] = true
	}
	return nil
}

// CreatePayoutTx spends every deposit of the multisig to the payout
// outputs, signed by the local party.
func (m *multisigWallet) CreatePayoutTx(
	_ context.Context, payout ports.Payout,
) (domain.TxRef, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.pkScript == nil {
		return domain.TxRef{}, fmt.Errorf("%w: multisig keys not exchanged", ErrMultisigNotReady)
	}
	if len(m.imported) == 0 {
		return domain.TxRef{}, fmt.Errorf("%w: missing multisig hex of peers", ErrMultisigNotReady)
	}

	deposits := m.chain.Unspents(m.pkScript)
	if len(deposits) == 0 {
		return domain.TxRef{}, ErrMultisigNotFunded
	}
	outpoints := make([]wire.OutPoint, 0, len(deposits))
	var total uint64
	for op, out := range deposits {
		outpoints = append(outpoints, op)
		total += uint64(out.Value)
	}
	sort.Slice(outpoints, func(i, j int) bool {
		return outpoints[i].String() < outpoints[j].String()
	})

	outs, err := payoutOutputs(payout, m.chain)
	if err != nil {
		return domain.TxRef{}, err
	}
	if payout.BuyerAmount+payout.SellerAmount >= total {
		return domain.TxRef{}, domain.NewInvalidArgumentError(
			"payout of %d doesn't leave fees from %d",
			payout.BuyerAmount+payout.SellerAmount, total,
		)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for i := range outpoints {
		tx.AddTxIn(wire.NewTxIn(&outpoints[i], nil, nil))
		witness := make(wire.TxWitness, partialWitnessLen)
		for j := 0; j < partialWitnessLen-1; j++ {
			witness[j] = []byte{}
		}
		witness[partialWitnessLen-1] = m.script
		tx.TxIn[i].Witness = witness
	}
	for _, out := range outs {
		tx.AddTxOut(out)
	}

	if err := m.sign(tx); err != nil {
		return domain.TxRef{}, err
	}
	return txRef(tx)
}

// VerifyPayoutTx checks that tx spends the multisig deposits to the
// expected outputs, then optionally adds the local signature and publishes
// it.
func (m *multisigWallet) VerifyPayoutTx(
	_ context.Context, txHex string, payout ports.Payout, sign, publish bool,
) (domain.TxRef, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.pkScript == nil {
		return domain.TxRef{}, fmt.Errorf("%w: multisig keys not exchanged", ErrMultisigNotReady)
	}
	tx, err := deserializeTx(txHex)
	if err != nil {
		return domain.TxRef{}, domain.NewInvalidArgumentError("malformed payout tx: %s", err)
	}

	for _, in := range tx.TxIn {
		prevOut, ok := m.chain.PrevOut(in.PreviousOutPoint)
		if !ok || !bytes.Equal(prevOut.PkScript, m.pkScript) {
			return domain.TxRef{}, domain.NewInvalidArgumentError(
				"payout tx spends %s, not a multisig deposit", in.PreviousOutPoint,
			)
		}
	}
	expected, err := payoutOutputs(payout, m.chain)
	if err != nil {
		return domain.TxRef{}, err
	}
	if len(tx.TxOut) != len(expected) {
		return domain.TxRef{}, domain.NewInvalidArgumentError(
			"payout tx has %d outputs, expected %d", len(tx.TxOut), len(expected),
		)
	}
	for i, out := range expected {
		if tx.TxOut[i].Value != out.Value ||
			!bytes.Equal(tx.TxOut[i].PkScript, out.PkScript) {
			return domain.TxRef{}, domain.NewInvalidArgumentError(
				"payout tx output %d doesn't match contract", i,
			)
		}
	}

	if sign {
		if err := m.sign(tx); err != nil {
			return domain.TxRef{}, err
		}
	}
	if publish {
		if err := finalize(tx); err != nil {
			return domain.TxRef{}, err
		}
		if _, err := m.chain.Publish(tx); err != nil {
			return domain.TxRef{}, fmt.Errorf("failed to publish payout tx: %w", err)
		}
		log.Debugf("multisig %s: payout tx %s published", m.tradeID, tx.TxHash())
	}
	return txRef(tx)
}

// sign fills the local slot of every partially signed input.
func (m *multisigWallet) sign(tx *wire.MsgTx) error {
	slot := m.slot(m.key.PubKey().SerializeCompressed())

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(tx.TxIn))
	for _, in := range tx.TxIn {
		prevOut, ok := m.chain.PrevOut(in.PreviousOutPoint)
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingInput, in.PreviousOutPoint)
		}
		prevOuts[in.PreviousOutPoint] = prevOut
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, in := range tx.TxIn {
		if len(in.Witness) != partialWitnessLen {
			return domain.NewInvalidArgumentError("payout tx input %d already finalized", i)
		}
		sig, err := txscript.RawTxInWitnessSignature(
			tx, sigHashes, i, prevOuts[in.PreviousOutPoint].Value, m.script,
			txscript.SigHashAll, m.key,
		)
		if err != nil {
			return err
		}
		in.Witness[slot+1] = sig
	}
	return nil
}

func (m *multisigWallet) slot(pubKey []byte) int {
	for i, k := range m.pubKeys {
		if bytes.Equal(k, pubKey) {
			return i
		}
	}
	return -1
}

// finalize turns every partially signed input into a valid 2-of-3
// witness.
func finalize(tx *wire.MsgTx) error {
	for i, in := range tx.TxIn {
		if len(in.Witness) == finalWitnessLen {
			continue
		}
		if len(in.Witness) != partialWitnessLen {
			return domain.NewInvalidArgumentError("malformed witness of input %d", i)
		}

		witness := wire.TxWitness{nil}
		for _, sig := range in.Witness[1 : partialWitnessLen-1] {
			if len(sig) > 0 && len(witness) <= requiredSignatures {
				witness = append(witness, sig)
			}
		}
		if len(witness) <= requiredSignatures {
			return fmt.Errorf("%w: input %d", ErrMissingSignatures, i)
		}
		witness = append(witness, in.Witness[partialWitnessLen-1])
		in.Witness = witness
	}
	return nil
}

func payoutOutputs(payout ports.Payout, chain *Chain) ([]*wire.TxOut, error) {
	buyerScript, err := addressScript(payout.BuyerAddress, chain)
	if err != nil {
		return nil, err
	}
	sellerScript, err := addressScript(payout.SellerAddress, chain)
	if err != nil {
		return nil, err
	}
	return []*wire.TxOut{
		wire.NewTxOut(int64(payout.BuyerAmount), buyerScript),
		wire.NewTxOut(int64(payout.SellerAmount), sellerScript),
	}, nil
}

func txRef(tx *wire.MsgTx) (domain.TxRef, error) {
	txHex, err := serializeTx(tx)
	if err != nil {
		return domain.TxRef{}, err
	}
	return domain.TxRef{Hash: tx.TxHash().String(), Hex: txHex}, nil
}
