package chain

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"corechain.dev/node/consensus"
	nodecrypto "corechain.dev/node/crypto"
)

// UTXOSet is the indexed set of currently spendable outputs, keyed by (txid, index)
// (§4.5). It is owned exclusively by the engine (§5, "Shared-resource policy").
type UTXOSet struct {
	entries map[consensus.Outpoint]consensus.UTXO

	// LastAppliedHeight is the height marker persisted alongside the set, distinct
	// from the block store's own height so a stale snapshot and a partially-flushed
	// store can be detected independently at startup (§5 "Cancellation"; see
	// SPEC_FULL.md's supplemented-features section on last_applied_height).
	LastAppliedHeight int64

	path string
	p    nodecrypto.Provider
	log  zerolog.Logger
}

// NewUTXOSet constructs an empty set backed by path for persistence.
func NewUTXOSet(path string, p nodecrypto.Provider, log zerolog.Logger) *UTXOSet {
	return &UTXOSet{
		entries:           make(map[consensus.Outpoint]consensus.UTXO),
		LastAppliedHeight: -1,
		path:              path,
		p:                 p,
		log:               log.With().Str("component", "utxoset").Logger(),
	}
}

// Get returns the entry at op, if present.
func (s *UTXOSet) Get(op consensus.Outpoint) (consensus.UTXO, bool) {
	u, ok := s.entries[op]
	return u, ok
}

// Count returns the number of live entries.
func (s *UTXOSet) Count() int {
	return len(s.entries)
}

// Add inserts u (which must be in producing/input form — a stamped txid) keyed by its
// Outpoint, rejecting structurally invalid UTXOs or ones lacking a producing txid
// (§4.5).
func (s *UTXOSet) Add(u consensus.UTXO) error {
	if !u.IsInput() {
		return fmt.Errorf("utxoset: add requires a producing txid")
	}
	if len(u.OwnerPK) != consensus.PubKeyDERLen || u.Amount <= 0 {
		return fmt.Errorf("utxoset: structurally invalid UTXO")
	}
	s.entries[consensus.OutpointOf(u)] = u
	return nil
}

// Remove deletes the entry at op and reports whether it existed (§4.5).
func (s *UTXOSet) Remove(op consensus.Outpoint) bool {
	if _, ok := s.entries[op]; !ok {
		return false
	}
	delete(s.entries, op)
	return true
}

// utxoSetDocument is the §6 "UTXO-set file" on-disk shape: a height header plus the
// list of output-form entries.
type utxoSetDocument struct {
	Height  int64                        `json:"height"`
	Outputs []consensus.UTXOSetEntryWire `json:"outputs"`
}

// Save persists the set atomically (§4.5, §5 "save() is idempotent").
func (s *UTXOSet) Save() error {
	doc := utxoSetDocument{
		Height:  s.LastAppliedHeight,
		Outputs: make([]consensus.UTXOSetEntryWire, 0, len(s.entries)),
	}
	for _, u := range s.entries {
		doc.Outputs = append(doc.Outputs, u.ToSetEntryWire(s.p))
	}
	if err := writeDocumentAtomic(s.path, doc); err != nil {
		s.log.Error().Err(err).Str("path", s.path).Msg("failed to persist UTXO set")
		return err
	}
	return nil
}

// Load replaces the in-memory set with the one persisted at s.path. A missing file is
// not an error — it means an empty, freshly initialized set (§5 "Cancellation":
// startup re-derives state rather than treating absence as corruption).
func (s *UTXOSet) Load() error {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		s.entries = make(map[consensus.Outpoint]consensus.UTXO)
		s.LastAppliedHeight = -1
		return nil
	}
	var doc utxoSetDocument
	if err := readDocument(s.path, &doc); err != nil {
		s.log.Error().Err(err).Str("path", s.path).Msg("corrupt UTXO set snapshot")
		return err
	}
	entries := make(map[consensus.Outpoint]consensus.UTXO, len(doc.Outputs))
	for _, w := range doc.Outputs {
		u, err := consensus.UTXOFromSetEntryWire(w)
		if err != nil {
			return err
		}
		entries[consensus.OutpointOf(u)] = u
	}
	s.entries = entries
	s.LastAppliedHeight = doc.Height
	return nil
}
