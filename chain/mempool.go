package chain

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"

	"corechain.dev/node/consensus"
	nodecrypto "corechain.dev/node/crypto"
)

// Mempool is the set of pending transactions keyed by txid, each carrying its
// first-seen arrival timestamp (§3, §4.8).
type Mempool struct {
	entries map[[32]byte]mempoolEntry
	path    string
	p       nodecrypto.Provider
	log     zerolog.Logger
}

type mempoolEntry struct {
	tx        consensus.Transaction
	timestamp int64
}

// NewMempool constructs an empty mempool backed by path for persistence.
func NewMempool(path string, p nodecrypto.Provider, log zerolog.Logger) *Mempool {
	return &Mempool{
		entries: make(map[[32]byte]mempoolEntry),
		path:    path,
		p:       p,
		log:     log.With().Str("component", "mempool").Logger(),
	}
}

// Add records tx's first-seen arrival at timestamp, keyed by its txid.
func (m *Mempool) Add(tx consensus.Transaction, timestamp int64) {
	txid := tx.TxID(m.p)
	if _, exists := m.entries[txid]; exists {
		return
	}
	m.entries[txid] = mempoolEntry{tx: tx, timestamp: timestamp}
}

// Remove deletes the entry for txid and reports whether it existed.
func (m *Mempool) Remove(txid [32]byte) bool {
	if _, ok := m.entries[txid]; !ok {
		return false
	}
	delete(m.entries, txid)
	return true
}

// Len returns the number of pending transactions.
func (m *Mempool) Len() int {
	return len(m.entries)
}

// Save persists the mempool as a plain JSON map of arrival-timestamp (string key, per
// JSON object-key convention) to transaction JSON (§6 "Mempool file").
func (m *Mempool) Save() error {
	out := make(map[string]json.RawMessage, len(m.entries))
	for _, e := range m.entries {
		txJSON, err := json.Marshal(e.tx.ToWire(m.p))
		if err != nil {
			return fmt.Errorf("mempool: encode transaction: %w", err)
		}
		out[strconv.FormatInt(e.timestamp, 10)] = txJSON
	}
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("mempool: encode document: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		m.log.Error().Err(err).Str("path", m.path).Msg("failed to write mempool file")
		return err
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		m.log.Error().Err(err).Str("path", m.path).Msg("failed to rename mempool file into place")
		return err
	}
	return nil
}

// Load replaces the in-memory mempool with the one persisted at m.path. A missing
// file means an empty mempool, not a failure.
func (m *Mempool) Load() error {
	raw, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		m.entries = make(map[[32]byte]mempoolEntry)
		return nil
	}
	if err != nil {
		return err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		m.log.Error().Err(err).Str("path", m.path).Msg("malformed mempool file")
		return fmt.Errorf("mempool: malformed file: %w", err)
	}
	entries := make(map[[32]byte]mempoolEntry, len(doc))
	for stampStr, txRaw := range doc {
		stamp, err := strconv.ParseInt(stampStr, 10, 64)
		if err != nil {
			return fmt.Errorf("mempool: malformed timestamp key %q: %w", stampStr, err)
		}
		tx, err := consensus.DecodeTransactionJSON(txRaw, m.p)
		if err != nil {
			return fmt.Errorf("mempool: malformed transaction: %w", err)
		}
		entries[tx.TxID(m.p)] = mempoolEntry{tx: *tx, timestamp: stamp}
	}
	m.entries = entries
	return nil
}
