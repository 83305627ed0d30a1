package consensus

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	nodecrypto "corechain.dev/node/crypto"
)

// hex0x renders b as a "0x"-prefixed lowercase hex string, the convention §6 uses for
// owner, txid, prev, hash, and nonce fields.
func hex0x(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// hexBare renders b as a bare lowercase hex string, the convention §6 uses for pk and
// unlock-sig fields.
func hexBare(b []byte) string {
	return hex.EncodeToString(b)
}

func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, cerr(ErrParse, "malformed hex field: "+err.Error())
	}
	return b, nil
}

func parseHash32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := parseHex(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, cerr(ErrParse, "expected 32-byte hash field")
	}
	copy(out[:], b)
	return out, nil
}

// utxoOutputWire is the §6 output wire form: owner, amount, index, pk.
type utxoOutputWire struct {
	Owner  string  `json:"owner"`
	Amount float64 `json:"amount"`
	Index  uint8   `json:"index"`
	PK     string  `json:"pk"`
}

// utxoInputWire is the §6 input wire form: owner, amount, index, pk, unlock-sig, txid.
type utxoInputWire struct {
	Owner     string  `json:"owner"`
	Amount    float64 `json:"amount"`
	Index     uint8   `json:"index"`
	PK        string  `json:"pk"`
	UnlockSig string  `json:"unlock-sig"`
	Txid      string  `json:"txid"`
}

func (u UTXO) toOutputWire(p nodecrypto.Provider) utxoOutputWire {
	owner := u.Owner(p)
	return utxoOutputWire{
		Owner:  hex0x(owner[:]),
		Amount: float64(u.Amount),
		Index:  u.Index,
		PK:     hexBare(u.OwnerPK),
	}
}

func (u UTXO) toInputWire(p nodecrypto.Provider) utxoInputWire {
	owner := u.Owner(p)
	return utxoInputWire{
		Owner:     hex0x(owner[:]),
		Amount:    float64(u.Amount),
		Index:     u.Index,
		PK:        hexBare(u.OwnerPK),
		UnlockSig: hexBare(u.UnlockSig),
		Txid:      hex0x(u.Txid),
	}
}

func utxoFromOutputWire(w utxoOutputWire) (UTXO, error) {
	pk, err := parseHex(w.PK)
	if err != nil {
		return UTXO{}, err
	}
	return UTXO{
		OwnerPK: pk,
		Amount:  float32(w.Amount),
		Index:   w.Index,
	}, nil
}

func utxoFromInputWire(w utxoInputWire) (UTXO, error) {
	pk, err := parseHex(w.PK)
	if err != nil {
		return UTXO{}, err
	}
	sig, err := parseHex(w.UnlockSig)
	if err != nil {
		return UTXO{}, err
	}
	txid, err := parseHex(w.Txid)
	if err != nil {
		return UTXO{}, err
	}
	return UTXO{
		OwnerPK:   pk,
		Amount:    float32(w.Amount),
		Index:     w.Index,
		UnlockSig: sig,
		Txid:      txid,
	}, nil
}

// UTXOSetEntryWire is the persisted form of a confirmed UTXO-set entry: owner, amount,
// index, pk, and the producing txid (needed to reconstruct the (txid, index) key on
// load), but no unlock-sig — a confirmed output carries no pending spend (§4.5, §6
// "UTXO-set file"). spec.md §6 only says the set is persisted as a list of
// "output-form UTXO JSON" without enumerating fields; this repo keeps the txid the way
// the reference's UTXOSet.get_as_json does (its to_json always includes txid), since
// the on-disk key must be recoverable.
type UTXOSetEntryWire struct {
	Owner  string  `json:"owner"`
	Amount float64 `json:"amount"`
	Index  uint8   `json:"index"`
	PK     string  `json:"pk"`
	Txid   string  `json:"txid"`
}

// ToSetEntryWire renders a confirmed UTXO-set entry (u must be in input/producing
// form — Txid set to its producing transaction's id).
func (u UTXO) ToSetEntryWire(p nodecrypto.Provider) UTXOSetEntryWire {
	owner := u.Owner(p)
	return UTXOSetEntryWire{
		Owner:  hex0x(owner[:]),
		Amount: float64(u.Amount),
		Index:  u.Index,
		PK:     hexBare(u.OwnerPK),
		Txid:   hex0x(u.Txid),
	}
}

// UTXOFromSetEntryWire parses a persisted UTXO-set entry back into a UTXO.
func UTXOFromSetEntryWire(w UTXOSetEntryWire) (UTXO, error) {
	pk, err := parseHex(w.PK)
	if err != nil {
		return UTXO{}, err
	}
	txid, err := parseHex(w.Txid)
	if err != nil {
		return UTXO{}, err
	}
	return UTXO{
		OwnerPK: pk,
		Amount:  float32(w.Amount),
		Index:   w.Index,
		Txid:    txid,
	}, nil
}

// txWire is the §6 transaction wire form.
type txWire struct {
	Inputs  []utxoInputWire  `json:"inputs"`
	Outputs []utxoOutputWire `json:"outputs"`
	Nonce   string           `json:"nonce"`
	Txid    string           `json:"txid"`
}

// ToWire renders tx into its §6 JSON form, stamping the recomputed txid.
func (tx *Transaction) ToWire(p nodecrypto.Provider) txWire {
	w := txWire{
		Inputs:  make([]utxoInputWire, len(tx.Inputs)),
		Outputs: make([]utxoOutputWire, len(tx.Outputs)),
		Nonce:   hex0x(tx.Nonce),
		Txid:    hex0x(func() []byte { h := tx.TxID(p); return h[:] }()),
	}
	for i, in := range tx.Inputs {
		w.Inputs[i] = in.toInputWire(p)
	}
	for i, out := range tx.Outputs {
		w.Outputs[i] = out.toOutputWire(p)
	}
	return w
}

// transactionFromWire parses w into a Transaction, rejecting it if the embedded txid
// does not match the recomputed one (§4.4, "defense against lazy peers").
func transactionFromWire(w txWire, p nodecrypto.Provider) (*Transaction, error) {
	tx := &Transaction{
		Inputs:  make([]UTXO, len(w.Inputs)),
		Outputs: make([]UTXO, len(w.Outputs)),
	}
	for i, in := range w.Inputs {
		u, err := utxoFromInputWire(in)
		if err != nil {
			return nil, err
		}
		tx.Inputs[i] = u
	}
	for i, out := range w.Outputs {
		u, err := utxoFromOutputWire(out)
		if err != nil {
			return nil, err
		}
		tx.Outputs[i] = u
	}
	nonce, err := parseHex(w.Nonce)
	if err != nil {
		return nil, err
	}
	tx.Nonce = nonce

	wantTxid, err := parseHash32(w.Txid)
	if err != nil {
		return nil, err
	}
	if tx.TxID(p) != wantTxid {
		return nil, cerr(ErrParse, "transaction txid does not match recomputed hash")
	}
	return tx, nil
}

// DecodeTransactionJSON parses a §6 JSON transaction object, verifying the embedded
// txid.
func DecodeTransactionJSON(raw []byte, p nodecrypto.Provider) (*Transaction, error) {
	var w txWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, cerr(ErrParse, "malformed transaction JSON: "+err.Error())
	}
	return transactionFromWire(w, p)
}

// blockWire is the §6 block wire form.
type blockWire struct {
	Version    uint8    `json:"version"`
	Prev       string   `json:"prev"`
	Hash       string   `json:"hash"`
	Timestamp  uint64   `json:"timestamp"`
	Difficulty uint32   `json:"difficulty"`
	Nonce      string   `json:"nonce"`
	Txs        []txWire `json:"txs"`
}

// ToWire renders b into its §6 JSON form, stamping the recomputed hash.
func (b *Block) ToWire(p nodecrypto.Provider) blockWire {
	w := blockWire{
		Version:    b.Version,
		Prev:       hex0x(b.PrevHash[:]),
		Timestamp:  b.Timestamp,
		Difficulty: b.DifficultyBits,
		Nonce:      hex0x(b.Nonce),
		Txs:        make([]txWire, len(b.Txs)),
	}
	for i := range b.Txs {
		w.Txs[i] = b.Txs[i].ToWire(p)
	}
	h := b.Hash(p)
	w.Hash = hex0x(h[:])
	return w
}

// BlockFromWire parses w into a Block, rejecting it if the embedded hash does not
// match the recomputed one (§4.4).
func BlockFromWire(w blockWire, p nodecrypto.Provider) (*Block, error) {
	prev, err := parseHash32(w.Prev)
	if err != nil {
		return nil, err
	}
	nonce, err := parseHex(w.Nonce)
	if err != nil {
		return nil, err
	}
	b := &Block{
		Version:        w.Version,
		PrevHash:       prev,
		Timestamp:      w.Timestamp,
		DifficultyBits: w.Difficulty,
		Nonce:          nonce,
		Txs:            make([]Transaction, len(w.Txs)),
	}
	for i, txw := range w.Txs {
		tx, err := transactionFromWire(txw, p)
		if err != nil {
			return nil, err
		}
		b.Txs[i] = *tx
	}

	wantHash, err := parseHash32(w.Hash)
	if err != nil {
		return nil, err
	}
	if b.Hash(p) != wantHash {
		return nil, cerr(ErrParse, "block hash does not match recomputed hash")
	}
	return b, nil
}

// EncodeBlockJSON renders b into its §6 JSON wire form.
func (b *Block) EncodeBlockJSON(p nodecrypto.Provider) (json.RawMessage, error) {
	return json.Marshal(b.ToWire(p))
}

// DecodeBlockJSON parses a §6 JSON block object, verifying the embedded hash.
func DecodeBlockJSON(raw []byte, p nodecrypto.Provider) (*Block, error) {
	var w blockWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, cerr(ErrParse, "malformed block JSON: "+err.Error())
	}
	return BlockFromWire(w, p)
}
