package consensus

import (
	"crypto/rand"

	nodecrypto "corechain.dev/node/crypto"
)

// Transaction is the coretc transaction: an ordered input vector spending prior
// outputs, an ordered output vector producing new ones, and an 8-byte anti-collision
// nonce (§4.3).
type Transaction struct {
	Inputs  []UTXO
	Outputs []UTXO
	Nonce   []byte // 8 bytes

	txidCache *[32]byte
}

// IsCoinbase reports whether this transaction has no inputs — the reward-paying
// transaction every block may contain exactly one of (§4.3, §4.8).
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 0
}

// Make assigns ascending output indices, generates a fresh 8-byte nonce, and
// invalidates the txid cache (§4.3).
func (tx *Transaction) Make() error {
	for i := range tx.Outputs {
		tx.Outputs[i].Index = uint8(i)
	}
	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	tx.Nonce = nonce
	tx.txidCache = nil
	return nil
}

// hashUTXOList is coretc's hash_utxo_list: SHA256 of the concatenation of each UTXO's
// own hash, computed once over inputs followed by outputs.
func hashUTXOList(list []UTXO, p nodecrypto.Provider) [32]byte {
	buf := make([]byte, 0, 32*len(list))
	for _, u := range list {
		h := u.Hash(p)
		buf = append(buf, h[:]...)
	}
	return p.SHA256(buf)
}

// TxID computes (and caches) SHA256(hashUTXOList(inputs+outputs) || nonce), the
// transaction-level hash the §6 wire form's "txid" field must match.
func (tx *Transaction) TxID(p nodecrypto.Provider) [32]byte {
	if tx.txidCache != nil {
		return *tx.txidCache
	}
	combined := make([]UTXO, 0, len(tx.Inputs)+len(tx.Outputs))
	combined = append(combined, tx.Inputs...)
	combined = append(combined, tx.Outputs...)
	listHash := hashUTXOList(combined, p)
	buf := make([]byte, 0, 32+len(tx.Nonce))
	buf = append(buf, listHash[:]...)
	buf = append(buf, tx.Nonce...)
	h := p.SHA256(buf)
	tx.txidCache = &h
	return h
}

// IngoingFunds sums the amounts of every input.
func (tx *Transaction) IngoingFunds() float64 {
	var total float64
	for _, u := range tx.Inputs {
		total += float64(u.Amount)
	}
	return total
}

// OutgoingFunds sums the amounts of every output.
func (tx *Transaction) OutgoingFunds() float64 {
	var total float64
	for _, u := range tx.Outputs {
		total += float64(u.Amount)
	}
	return total
}

// TransactionFee is ingoing minus outgoing, defined as 0 for a coinbase (§4.3).
func (tx *Transaction) TransactionFee() float64 {
	if tx.IsCoinbase() {
		return 0
	}
	return tx.IngoingFunds() - tx.OutgoingFunds()
}

// CanonicalValidate checks structure: outputs sorted by ascending index, indices
// exactly 0..n-1, n <= MaxOutputsPerTx, each output structurally valid (§4.3).
func (tx *Transaction) CanonicalValidate() error {
	if len(tx.Outputs) > MaxOutputsPerTx {
		return cerr(ErrInvalidTxOutputs, "too many outputs")
	}
	for i, o := range tx.Outputs {
		if int(o.Index) != i {
			return cerr(ErrInvalidTxOutputs, "output indices not sequential from zero")
		}
		if o.IsInput() {
			return cerr(ErrInvalidTxOutputs, "output carries an input-shaped txid/signature")
		}
		if !o.structurallyValid() {
			return cerr(ErrInvalidTxOutputs, "structurally invalid output")
		}
	}
	for _, in := range tx.Inputs {
		if !in.IsInput() {
			return cerr(ErrInvalidTxInputs, "input missing producing txid")
		}
		if !in.structurallyValid() {
			return cerr(ErrInvalidTxInputs, "structurally invalid input")
		}
	}
	if !tx.IsCoinbase() {
		if tx.OutgoingFunds() > tx.IngoingFunds() {
			return cerr(ErrInvalidTxAmounts, "outgoing exceeds ingoing")
		}
	}
	return nil
}

// CheckInputs verifies every input is structurally valid as an input and that its
// signature unlocks this transaction's output vector (§4.3).
func (tx *Transaction) CheckInputs(p nodecrypto.Provider) error {
	for _, in := range tx.Inputs {
		if !in.IsInput() {
			return cerr(ErrInvalidTxInputs, "input missing producing txid")
		}
		if !in.structurallyValid() {
			return cerr(ErrInvalidTxInputs, "structurally invalid input")
		}
		if !in.VerifyAgainst(tx.Outputs, p) {
			return cerr(ErrInvalidTxInputs, "signature does not unlock output vector")
		}
	}
	return nil
}
