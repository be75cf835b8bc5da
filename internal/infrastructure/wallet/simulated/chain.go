package simulated

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrTxNotFound is returned for txs neither relayed nor mined.
	ErrTxNotFound = errors.New("tx not found")
	// ErrTxAlreadyKnown is returned when submitting a tx already in the
	// pool or on chain.
	ErrTxAlreadyKnown = errors.New("tx already known")
	// ErrMissingInput is returned when a tx spends an unknown or already
	// spent output.
	ErrMissingInput = errors.New("missing or spent input")
	// ErrDoubleSpend is returned when a tx spends an output already spent
	// by a tx in the pool.
	ErrDoubleSpend = errors.New("double spend")
	// ErrInvalidScript is returned when an input fails script validation.
	ErrInvalidScript = errors.New("invalid input script")
)

// SubmitHook is invoked for every tx submitted to the pool. A non nil
// error rejects the tx.
type SubmitHook func(tx *wire.MsgTx) error

// Chain is an in-process ledger shared by the simulated wallets. Txs are
// submitted to a pool, relayed to the mempool, and mined on request.
// Every input is validated with the btcd script engine.
type Chain struct {
	lock   sync.RWMutex
	params *chaincfg.Params

	outputs map[wire.OutPoint]*wire.TxOut
	spent   map[wire.OutPoint]chainhash.Hash
	pool    map[chainhash.Hash]*wire.MsgTx
	mempool map[chainhash.Hash]*wire.MsgTx
	mined   map[chainhash.Hash]uint32
	height  uint32
	nonce   uint64
	hook    SubmitHook
}

// NewChain returns an empty regtest chain.
func NewChain() *Chain {
	return &Chain{
		params:  &chaincfg.RegressionNetParams,
		outputs: make(map[wire.OutPoint]*wire.TxOut),
		spent:   make(map[wire.OutPoint]chainhash.Hash),
		pool:    make(map[chainhash.Hash]*wire.MsgTx),
		mempool: make(map[chainhash.Hash]*wire.MsgTx),
		mined:   make(map[chainhash.Hash]uint32),
	}
}

// Params returns the network params of the chain.
func (c *Chain) Params() *chaincfg.Params {
	return c.params
}

// SetSubmitHook installs the hook invoked on every submission, nil
// removes it.
func (c *Chain) SetSubmitHook(hook SubmitHook) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.hook = hook
}

// Height returns the number of mined blocks.
func (c *Chain) Height() uint32 {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.height
}

// Fund mines a coinbase-like tx paying amount to the given script.
func (c *Chain) Fund(pkScript []byte, amount uint64) (string, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.nonce++
	sigScript := make([]byte, 8)
	binary.BigEndian.PutUint64(sigScript, c.nonce)

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex), sigScript, nil,
	))
	tx.AddTxOut(wire.NewTxOut(int64(amount), pkScript))

	hash := tx.TxHash()
	c.addOutputs(tx)
	c.height++
	c.mined[hash] = c.height
	return hash.String(), nil
}

// MineBlock confirms every tx of the mempool in a new block and returns
// their hashes.
func (c *Chain) MineBlock() []string {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.height++
	hashes := make([]string, 0, len(c.mempool))
	for hash := range c.mempool {
		c.mined[hash] = c.height
		hashes = append(hashes, hash.String())
		delete(c.mempool, hash)
	}
	if len(hashes) > 0 {
		log.Debugf("chain: mined block %d with %d txs", c.height, len(hashes))
	}
	return hashes
}

// Submit validates the tx and adds it to the pool without relaying it.
func (c *Chain) Submit(tx *wire.MsgTx) (string, error) {
	c.lock.RLock()
	hook := c.hook
	c.lock.RUnlock()

	// The hook may query the chain.
	if hook != nil {
		if err := hook(tx); err != nil {
			return "", err
		}
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	hash := tx.TxHash()
	if c.isKnown(hash) {
		return "", fmt.Errorf("%w: %s", ErrTxAlreadyKnown, hash)
	}
	if err := c.verifyInputs(tx); err != nil {
		return "", err
	}
	for _, in := range tx.TxIn {
		for poolHash, poolTx := range c.pool {
			if spends(poolTx, in.PreviousOutPoint) {
				return "", fmt.Errorf(
					"%w: %s already spent by %s", ErrDoubleSpend,
					in.PreviousOutPoint, poolHash,
				)
			}
		}
	}

	c.pool[hash] = tx
	return hash.String(), nil
}

// Relay moves the given txs from the pool to the mempool. Either all txs
// are relayed or none.
func (c *Chain) Relay(hashes []string) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	txs := make([]*wire.MsgTx, 0, len(hashes))
	for _, h := range hashes {
		hash, err := chainhash.NewHashFromStr(h)
		if err != nil {
			return err
		}
		tx, ok := c.pool[*hash]
		if !ok {
			return fmt.Errorf("%w: %s not in pool", ErrTxNotFound, h)
		}
		txs = append(txs, tx)
	}

	for _, tx := range txs {
		hash := tx.TxHash()
		delete(c.pool, hash)
		for _, in := range tx.TxIn {
			c.spent[in.PreviousOutPoint] = hash
		}
		c.addOutputs(tx)
		c.mempool[hash] = tx
	}
	return nil
}

// Flush drops the given txs from the pool. Unknown txs are ignored.
func (c *Chain) Flush(hashes []string) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	for _, h := range hashes {
		hash, err := chainhash.NewHashFromStr(h)
		if err != nil {
			return err
		}
		delete(c.pool, *hash)
	}
	return nil
}

// Publish submits and relays a single tx.
func (c *Chain) Publish(tx *wire.MsgTx) (string, error) {
	hash, err := c.Submit(tx)
	if err != nil {
		return "", err
	}
	if err := c.Relay([]string{hash}); err != nil {
		return "", err
	}
	return hash, nil
}

// Confirmations returns the confirmations of a relayed tx, 0 if it's still
// in mempool.
func (c *Chain) Confirmations(h string) (uint64, error) {
	hash, err := chainhash.NewHashFromStr(h)
	if err != nil {
		return 0, err
	}

	c.lock.RLock()
	defer c.lock.RUnlock()

	if height, ok := c.mined[*hash]; ok {
		return uint64(c.height - height + 1), nil
	}
	if _, ok := c.mempool[*hash]; ok {
		return 0, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrTxNotFound, h)
}

// InPool returns whether the tx is submitted but not relayed.
func (c *Chain) InPool(h string) bool {
	hash, err := chainhash.NewHashFromStr(h)
	if err != nil {
		return false
	}
	c.lock.RLock()
	defer c.lock.RUnlock()
	_, ok := c.pool[*hash]
	return ok
}

// IsUnspent returns whether the outpoint exists and is not spent by a
// relayed tx.
func (c *Chain) IsUnspent(op wire.OutPoint) bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.isUnspent(op)
}

// PrevOut returns the output at the given outpoint, spent or not.
func (c *Chain) PrevOut(op wire.OutPoint) (*wire.TxOut, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	out, ok := c.outputs[op]
	return out, ok
}

// Unspents returns the unspent outputs locked by the given script.
func (c *Chain) Unspents(pkScript []byte) map[wire.OutPoint]*wire.TxOut {
	c.lock.RLock()
	defer c.lock.RUnlock()

	unspents := make(map[wire.OutPoint]*wire.TxOut)
	for op, out := range c.outputs {
		if bytes.Equal(out.PkScript, pkScript) && c.isUnspent(op) {
			unspents[op] = out
		}
	}
	return unspents
}

// SpentInPool returns whether the outpoint is spent by a tx in the pool.
func (c *Chain) SpentInPool(op wire.OutPoint) bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	for _, tx := range c.pool {
		if spends(tx, op) {
			return true
		}
	}
	return false
}

// VerifyInputs checks that every input of tx spends an unspent output with
// a valid witness.
func (c *Chain) VerifyInputs(tx *wire.MsgTx) error {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.verifyInputs(tx)
}

// Fee returns the difference between the inputs and outputs of the tx.
func (c *Chain) Fee(tx *wire.MsgTx) (uint64, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	var in, out int64
	for _, txIn := range tx.TxIn {
		prevOut, ok := c.outputs[txIn.PreviousOutPoint]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrMissingInput, txIn.PreviousOutPoint)
		}
		in += prevOut.Value
	}
	for _, txOut := range tx.TxOut {
		out += txOut.Value
	}
	if out > in {
		return 0, fmt.Errorf("outputs exceed inputs by %d", out-in)
	}
	return uint64(in - out), nil
}

func (c *Chain) verifyInputs(tx *wire.MsgTx) error {
	if len(tx.TxIn) == 0 {
		return fmt.Errorf("%w: tx has no inputs", ErrMissingInput)
	}

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(tx.TxIn))
	for _, in := range tx.TxIn {
		if !c.isUnspent(in.PreviousOutPoint) {
			return fmt.Errorf("%w: %s", ErrMissingInput, in.PreviousOutPoint)
		}
		prevOuts[in.PreviousOutPoint] = c.outputs[in.PreviousOutPoint]
	}

	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, in := range tx.TxIn {
		prevOut := prevOuts[in.PreviousOutPoint]
		vm, err := txscript.NewEngine(
			prevOut.PkScript, tx, i, txscript.StandardVerifyFlags, nil,
			sigHashes, prevOut.Value, fetcher,
		)
		if err != nil {
			return fmt.Errorf("%w: input %d: %s", ErrInvalidScript, i, err)
		}
		if err := vm.Execute(); err != nil {
			return fmt.Errorf("%w: input %d: %s", ErrInvalidScript, i, err)
		}
	}
	return nil
}

func (c *Chain) isKnown(hash chainhash.Hash) bool {
	if _, ok := c.pool[hash]; ok {
		return true
	}
	if _, ok := c.mempool[hash]; ok {
		return true
	}
	_, ok := c.mined[hash]
	return ok
}

func (c *Chain) isUnspent(op wire.OutPoint) bool {
	if _, ok := c.outputs[op]; !ok {
		return false
	}
	_, spent := c.spent[op]
	return !spent
}

func (c *Chain) addOutputs(tx *wire.MsgTx) {
	hash := tx.TxHash()
	for i, out := range tx.TxOut {
		c.outputs[*wire.NewOutPoint(&hash, uint32(i))] = out
	}
}

func spends(tx *wire.MsgTx, op wire.OutPoint) bool {
	for _, in := range tx.TxIn {
		if in.PreviousOutPoint == op {
			return true
		}
	}
	return false
}

func serializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func deserializeTx(txHex string) (*wire.MsgTx, error) {
	b, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return tx, nil
}
