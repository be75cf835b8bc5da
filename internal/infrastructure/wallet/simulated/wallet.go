package simulated

import (
	"context"
	"crypto/rand"
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

// DefaultTxFee is the mining fee paid by every tx created by the wallet.
const DefaultTxFee = 100000000

var (
	// ErrInsufficientFunds is returned when the wallet can't cover the
	// requested amount plus fee.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrWalletClosed is returned by a closed wallet.
	ErrWalletClosed = errors.New("wallet closed")
)

type utxo struct {
	outpoint wire.OutPoint
	out      *wire.TxOut
}

// Wallet is a single key-per-address wallet over a simulated chain.
type Wallet struct {
	chain *Chain
	name  string
	fee   uint64

	lock      sync.Mutex
	keys      map[string]*btcec.PrivateKey
	scripts   [][]byte
	reserved  map[wire.OutPoint]string
	reserves  map[string]domain.TxRef
	deposits  map[string]domain.TxRef
	multisigs map[string]*multisigWallet
	closed    bool
}

// NewWallet returns a wallet with a first receiving address. A zero fee
// defaults to DefaultTxFee.
func NewWallet(chain *Chain, name string, fee uint64) (*Wallet, error) {
	if chain == nil {
		return nil, fmt.Errorf("missing chain")
	}
	if fee == 0 {
		fee = DefaultTxFee
	}
	w := &Wallet{
		chain:     chain,
		name:      name,
		fee:       fee,
		keys:      make(map[string]*btcec.PrivateKey),
		reserved:  make(map[wire.OutPoint]string),
		reserves:  make(map[string]domain.TxRef),
		deposits:  make(map[string]domain.TxRef),
		multisigs: make(map[string]*multisigWallet),
	}
	if _, err := w.newAddress(); err != nil {
		return nil, err
	}
	return w, nil
}

// Name returns the name of the wallet.
func (w *Wallet) Name() string {
	return w.name
}

// Fund mines a tx paying amount to the first address of the wallet.
func (w *Wallet) Fund(amount uint64) error {
	w.lock.Lock()
	script := w.scripts[0]
	w.lock.Unlock()

	_, err := w.chain.Fund(script, amount)
	return err
}

// Balance returns the sum of the unspent outputs of the wallet.
func (w *Wallet) Balance() uint64 {
	w.lock.Lock()
	defer w.lock.Unlock()

	var balance uint64
	for _, u := range w.unspents() {
		balance += uint64(u.out.Value)
	}
	return balance
}

// Spends returns whether any input of tx spends an output of the wallet.
func (w *Wallet) Spends(tx *wire.MsgTx) bool {
	w.lock.Lock()
	defer w.lock.Unlock()

	for _, in := range tx.TxIn {
		prevOut, ok := w.chain.PrevOut(in.PreviousOutPoint)
		if !ok {
			continue
		}
		if _, ok := w.keys[hex.EncodeToString(prevOut.PkScript)]; ok {
			return true
		}
	}
	return false
}

func (w *Wallet) CreateReserveTx(
	_ context.Context, tradeID string, amount uint64,
) (domain.TxRef, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return domain.TxRef{}, ErrWalletClosed
	}
	if ref, ok := w.reserves[tradeID]; ok {
		return ref, nil
	}

	script, err := w.newAddress()
	if err != nil {
		return domain.TxRef{}, err
	}
	ref, err := w.createTx(tradeID, []*wire.TxOut{wire.NewTxOut(int64(amount), script)})
	if err != nil {
		return domain.TxRef{}, fmt.Errorf("failed to create reserve tx: %w", err)
	}
	w.reserves[tradeID] = ref
	log.Debugf("wallet %s: reserved %d for trade %s", w.name, amount, tradeID)
	return ref, nil
}

func (w *Wallet) VerifyReserveTx(
	_ context.Context, tradeID string, ref domain.TxRef, amount uint64,
) error {
	tx, err := decodeRef(ref)
	if err != nil {
		return err
	}

	var found bool
	for _, out := range tx.TxOut {
		if uint64(out.Value) >= amount {
			found = true
			break
		}
	}
	if !found {
		return domain.NewInvalidArgumentError(
			"reserve tx %s doesn't reserve %d", ref.Hash, amount,
		)
	}
	if err := w.chain.VerifyInputs(tx); err != nil {
		return domain.NewInvalidArgumentError("reserve tx %s: %s", ref.Hash, err)
	}
	return nil
}

func (w *Wallet) CreateDepositTx(
	_ context.Context, tradeID, multisigAddress string, amount uint64,
) (domain.TxRef, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return domain.TxRef{}, ErrWalletClosed
	}
	if ref, ok := w.deposits[tradeID]; ok {
		return ref, nil
	}

	script, err := w.addressScript(multisigAddress)
	if err != nil {
		return domain.TxRef{}, err
	}
	ref, err := w.createTx(tradeID, []*wire.TxOut{wire.NewTxOut(int64(amount), script)})
	if err != nil {
		return domain.TxRef{}, fmt.Errorf("failed to create deposit tx: %w", err)
	}
	w.deposits[tradeID] = ref
	return ref, nil
}

func (w *Wallet) VerifyDepositTx(
	_ context.Context, tradeID, multisigAddress string,
	ref domain.TxRef, amount uint64,
) (*ports.DepositInfo, error) {
	tx, err := decodeRef(ref)
	if err != nil {
		return nil, err
	}
	script, err := w.addressScript(multisigAddress)
	if err != nil {
		return nil, err
	}

	var deposit int64 = -1
	for _, out := range tx.TxOut {
		if string(out.PkScript) == string(script) {
			deposit = out.Value
			break
		}
	}
	if deposit < 0 {
		return nil, domain.NewInvalidArgumentError(
			"deposit tx %s doesn't fund the multisig wallet", ref.Hash,
		)
	}
	if uint64(deposit) < amount {
		return nil, domain.NewInvalidArgumentError(
			"deposit tx %s funds %d, expected at least %d", ref.Hash, deposit, amount,
		)
	}
	if err := w.chain.VerifyInputs(tx); err != nil {
		return nil, domain.NewInvalidArgumentError("deposit tx %s: %s", ref.Hash, err)
	}
	fee, err := w.chain.Fee(tx)
	if err != nil {
		return nil, domain.NewInvalidArgumentError("deposit tx %s: %s", ref.Hash, err)
	}

	return &ports.DepositInfo{Amount: uint64(deposit), Fee: fee}, nil
}

func (w *Wallet) SubmitTxToPool(_ context.Context, txHex string) (string, error) {
	tx, err := deserializeTx(txHex)
	if err != nil {
		return "", domain.NewInvalidArgumentError("malformed tx: %s", err)
	}
	return w.chain.Submit(tx)
}

func (w *Wallet) RelayTxs(_ context.Context, txHashes []string) error {
	return w.chain.Relay(txHashes)
}

func (w *Wallet) FlushTxPool(_ context.Context, txHashes []string) error {
	return w.chain.Flush(txHashes)
}

func (w *Wallet) GetTxConfirmations(_ context.Context, txHash string) (uint64, error) {
	return w.chain.Confirmations(txHash)
}

func (w *Wallet) GetNewAddress(_ context.Context) (string, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	script, err := w.newAddress()
	if err != nil {
		return "", err
	}
	return scriptAddress(script, w.chain)
}

func (w *Wallet) OpenMultisigWallet(
	_ context.Context, tradeID string,
) (ports.MultisigWallet, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return nil, ErrWalletClosed
	}
	if ms, ok := w.multisigs[tradeID]; ok {
		return ms, nil
	}
	ms := newMultisigWallet(w.chain, tradeID)
	w.multisigs[tradeID] = ms
	return ms, nil
}

func (w *Wallet) Close() {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.closed = true
}

// createTx funds the outputs with the coins reserved for the trade first,
// then with free coins. The change goes back to the first address.
// Must be called with the lock held.
func (w *Wallet) createTx(tradeID string, outs []*wire.TxOut) (domain.TxRef, error) {
	target := w.fee
	for _, out := range outs {
		target += uint64(out.Value)
	}

	coins, total, err := w.selectCoins(tradeID, target)
	if err != nil {
		return domain.TxRef{}, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(coins))
	for _, c := range coins {
		op := c.outpoint
		tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
		prevOuts[op] = c.out
	}
	for _, out := range outs {
		tx.AddTxOut(out)
	}
	if change := total - target; change > 0 {
		tx.AddTxOut(wire.NewTxOut(int64(change), w.scripts[0]))
	}

	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, c := range coins {
		key := w.keys[hex.EncodeToString(c.out.PkScript)]
		witness, err := txscript.WitnessSignature(
			tx, sigHashes, i, c.out.Value, c.out.PkScript,
			txscript.SigHashAll, key, true,
		)
		if err != nil {
			return domain.TxRef{}, err
		}
		tx.TxIn[i].Witness = witness
	}

	for _, c := range coins {
		w.reserved[c.outpoint] = tradeID
	}

	txHex, err := serializeTx(tx)
	if err != nil {
		return domain.TxRef{}, err
	}
	txKey := make([]byte, 32)
	if _, err := rand.Read(txKey); err != nil {
		return domain.TxRef{}, err
	}
	return domain.TxRef{
		Hash: tx.TxHash().String(),
		Hex:  txHex,
		Key:  hex.EncodeToString(txKey),
	}, nil
}

func (w *Wallet) selectCoins(tradeID string, target uint64) ([]utxo, uint64, error) {
	var own, free []utxo
	for _, u := range w.unspents() {
		if w.chain.SpentInPool(u.outpoint) {
			continue
		}
		reservedFor, ok := w.reserved[u.outpoint]
		switch {
		case ok && reservedFor == tradeID:
			own = append(own, u)
		case !ok:
			free = append(free, u)
		}
	}

	var selected []utxo
	var total uint64
	for _, u := range append(own, free...) {
		if total >= target {
			break
		}
		selected = append(selected, u)
		total += uint64(u.out.Value)
	}
	if total < target {
		return nil, 0, fmt.Errorf(
			"%w: needed %d, available %d", ErrInsufficientFunds, target, total,
		)
	}
	return selected, total, nil
}

// unspents returns the wallet coins sorted by outpoint.
func (w *Wallet) unspents() []utxo {
	var coins []utxo
	for _, script := range w.scripts {
		for op, out := range w.chain.Unspents(script) {
			coins = append(coins, utxo{op, out})
		}
	}
	sort.Slice(coins, func(i, j int) bool {
		return coins[i].outpoint.String() < coins[j].outpoint.String()
	})
	return coins
}

// newAddress adds a new p2wpkh key and returns its output script.
func (w *Wallet) newAddress() ([]byte, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	pubKeyHash := btcutil.Hash160(key.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, w.chain.Params())
	if err != nil {
		return nil, err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}
	w.keys[hex.EncodeToString(script)] = key
	w.scripts = append(w.scripts, script)
	return script, nil
}

func (w *Wallet) addressScript(addr string) ([]byte, error) {
	return addressScript(addr, w.chain)
}

func addressScript(addr string, chain *Chain) ([]byte, error) {
	decoded, err := btcutil.DecodeAddress(addr, chain.Params())
	if err != nil {
		return nil, domain.NewInvalidArgumentError("invalid address %q: %s", addr, err)
	}
	return txscript.PayToAddrScript(decoded)
}

func scriptAddress(script []byte, chain *Chain) (string, error) {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, chain.Params())
	if err != nil {
		return "", err
	}
	if len(addrs) != 1 {
		return "", fmt.Errorf("script has %d addresses", len(addrs))
	}
	return addrs[0].EncodeAddress(), nil
}

func decodeRef(ref domain.TxRef) (*wire.MsgTx, error) {
	if ref.Hex == "" {
		return nil, domain.NewInvalidArgumentError("missing tx hex")
	}
	tx, err := deserializeTx(ref.Hex)
	if err != nil {
		return nil, domain.NewInvalidArgumentError("malformed tx: %s", err)
	}
	if hash := tx.TxHash().String(); hash != ref.Hash {
		return nil, domain.NewInvalidArgumentError(
			"tx hash mismatch: got %s, expected %s", hash, ref.Hash,
		)
	}
	return tx, nil
}
