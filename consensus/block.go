package consensus

import (
	nodecrypto "corechain.dev/node/crypto"
)

// MaxNonceBytes bounds the block nonce's encoded length (§6: "hex string, <= 255 bytes
// encoded").
const MaxNonceBytes = 255

// Block is a coretc block: a header (previous hash, timestamp, difficulty bits, nonce,
// version) plus its ordered transaction list (§4.4).
type Block struct {
	Version        uint8
	PrevHash       [32]byte
	Timestamp      uint64
	DifficultyBits uint32
	Nonce          []byte
	Txs            []Transaction
}

// minimalBigEndian renders x as the shortest big-endian byte string with no leading
// zero byte, matching Python's long_to_bytes (the original block hash's timestamp and
// difficulty encoding) — 0 renders as a single zero byte, not an empty string.
func minimalBigEndian(x uint64) []byte {
	if x == 0 {
		return []byte{0}
	}
	var full [8]byte
	for i := 7; i >= 0; i-- {
		full[i] = byte(x)
		x >>= 8
	}
	i := 0
	for i < 7 && full[i] == 0 {
		i++
	}
	out := make([]byte, 8-i)
	copy(out, full[i:])
	return out
}

// Hash computes SHA256(prev || timestamp || difficulty || nonce || version ||
// concat(txids)) — the block's contribution to signing binds transaction ordering into
// the proof of work (§4.4).
func (b *Block) Hash(p nodecrypto.Provider) [32]byte {
	buf := make([]byte, 0, 32+8+8+len(b.Nonce)+1+32*len(b.Txs))
	buf = append(buf, b.PrevHash[:]...)
	buf = append(buf, minimalBigEndian(b.Timestamp)...)
	buf = append(buf, minimalBigEndian(uint64(b.DifficultyBits))...)
	buf = append(buf, b.Nonce...)
	buf = append(buf, b.Version)
	for i := range b.Txs {
		txid := b.Txs[i].TxID(p)
		buf = append(buf, txid[:]...)
	}
	return p.SHA256(buf)
}

// CanonicalValidate checks that the block's hash satisfies its own embedded difficulty
// bits (§4.4). Linkage (previous-hash, expected-difficulty) and per-transaction checks
// belong to the engine's block-acceptance protocol (§4.8), not here.
func (b *Block) CanonicalValidate(p nodecrypto.Provider) error {
	if len(b.Nonce) > MaxNonceBytes {
		return cerr(ErrInvalidPow, "nonce exceeds maximum encoded length")
	}
	if b.DifficultyBits>>MaxEffectiveBits != 0 {
		return cerr(ErrInvalidDifficulty, "difficulty bits exceed 30 effective bits")
	}
	ok, err := PowSatisfied(b.Hash(p), b.DifficultyBits)
	if err != nil {
		return cerr(ErrInvalidPow, err.Error())
	}
	if !ok {
		return cerr(ErrInvalidPow, "hash does not satisfy embedded difficulty")
	}
	return nil
}
