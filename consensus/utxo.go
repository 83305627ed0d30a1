package consensus

import (
	"crypto/ecdsa"
	"encoding/binary"
	"math"

	nodecrypto "corechain.dev/node/crypto"
)

// MaxOutputsPerTx is the structural ceiling on a transaction's output vector (§4.3).
const MaxOutputsPerTx = 256

// PubKeyDERLen is the exact length of the DER SubjectPublicKeyInfo form of a P-256
// public key (§6's "pk" field; §3 gives 93 bytes for the same attribute — this repo
// follows §6 and the actual standard encoding length, see DESIGN.md).
const PubKeyDERLen = 91

// UTXO is the single type used both for a transaction's outputs and for the inputs
// that reference a prior output (§4.2). An output has an empty Txid and UnlockSig; an
// input carries both, stamped with the hash of the transaction that produced it.
type UTXO struct {
	OwnerPK   []byte // DER SubjectPublicKeyInfo, 91 bytes
	Amount    float32
	Txid      []byte // empty for an output; 32 bytes for an input
	Index     uint8
	UnlockSig []byte // empty for an output; 64-byte r||s for an input
}

// IsInput reports whether this UTXO is being used as a spend reference (has a
// producing txid stamped on it) rather than as a freshly minted output.
func (u UTXO) IsInput() bool {
	return len(u.Txid) == 32
}

// Owner returns the SHA-256 of the owner's DER public key, the §6 "owner" wire field.
func (u UTXO) Owner(p nodecrypto.Provider) [32]byte {
	return p.SHA256(u.OwnerPK)
}

// Hash computes owner_pk || little-endian float32 amount || txid (empty for an
// output) || one-byte index, per §4.2.
func (u UTXO) Hash(p nodecrypto.Provider) [32]byte {
	buf := make([]byte, 0, len(u.OwnerPK)+4+len(u.Txid)+1)
	buf = append(buf, u.OwnerPK...)
	var amtBits [4]byte
	binary.LittleEndian.PutUint32(amtBits[:], math.Float32bits(u.Amount))
	buf = append(buf, amtBits[:]...)
	buf = append(buf, u.Txid...)
	buf = append(buf, u.Index)
	return p.SHA256(buf)
}

// digestOverOutputs computes SHA256(concat(output hashes) || self.hash()), the digest
// both Sign and VerifyAgainst bind to: the signature commits to the entire output
// vector of the containing transaction, not just this UTXO (§4.2, §9 "Signature binding").
func digestOverOutputs(u UTXO, outputs []UTXO, p nodecrypto.Provider) [32]byte {
	buf := make([]byte, 0, 32*len(outputs)+32)
	for _, o := range outputs {
		h := o.Hash(p)
		buf = append(buf, h[:]...)
	}
	self := u.Hash(p)
	buf = append(buf, self[:]...)
	return p.SHA256(buf)
}

// Sign produces the 64-byte r||s signature binding u to outputs, the output vector of
// the transaction it will be spent within.
func (u UTXO) Sign(priv *ecdsa.PrivateKey, outputs []UTXO, p nodecrypto.Provider) ([]byte, error) {
	digest := digestOverOutputs(u, outputs, p)
	return p.Sign(priv, digest)
}

// VerifyAgainst checks u.UnlockSig against outputs using u.OwnerPK (§4.2).
func (u UTXO) VerifyAgainst(outputs []UTXO, p nodecrypto.Provider) bool {
	if len(u.UnlockSig) == 0 {
		return false
	}
	digest := digestOverOutputs(u, outputs, p)
	return p.Verify(u.OwnerPK, u.UnlockSig, digest)
}

// CompareAsInput reports structural equality on owner_pk, amount, txid, and index —
// deliberately excluding the signature — used to detect a malleated input that
// references a real UTXO under a tampered amount or owner (§4.2).
func (u UTXO) CompareAsInput(other UTXO) bool {
	if u.Amount != other.Amount || u.Index != other.Index {
		return false
	}
	if string(u.OwnerPK) != string(other.OwnerPK) {
		return false
	}
	return string(u.Txid) == string(other.Txid)
}

// Outpoint identifies a UTXO set entry: the producing transaction and output index.
type Outpoint struct {
	Txid  [32]byte
	Index uint8
}

// OutpointOf extracts the Outpoint an input UTXO references.
func OutpointOf(u UTXO) Outpoint {
	var op Outpoint
	copy(op.Txid[:], u.Txid)
	op.Index = u.Index
	return op
}

// structurallyValid checks the shape required of any UTXO: a public key of the DER
// length, a positive finite amount, and, for an input, a non-empty unlock signature.
// Reward-cap checks are block-level concerns, not UTXO-level ones.
func (u UTXO) structurallyValid() bool {
	if len(u.OwnerPK) != PubKeyDERLen {
		return false
	}
	if u.Amount <= 0 || math.IsNaN(float64(u.Amount)) || math.IsInf(float64(u.Amount), 0) {
		return false
	}
	if u.IsInput() && len(u.UnlockSig) == 0 {
		return false
	}
	return true
}
