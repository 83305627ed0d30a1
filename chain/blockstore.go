package chain

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"corechain.dev/node/consensus"
	nodecrypto "corechain.dev/node/crypto"
)

// chunkDocument is a chunk file's on-disk shape: the single key "blocks" mapping to a
// list of block JSON objects (§6 "Block store layout").
type chunkDocument struct {
	Blocks []any `json:"blocks"`
}

// chunkDocumentRaw is the same shape used for decoding, where each block is kept as a
// raw JSON message until consensus.DecodeBlockJSON validates and parses it.
type chunkDocumentRaw struct {
	Blocks []json.RawMessage `json:"blocks"`
}

// BlockStore is the append-only, chunked confirmed-block log (§4.6). Chunk k holds
// heights k*N+1..(k+1)*N in insertion order; chunk filenames are lowercase hex of the
// zero-based chunk index, suffixed ".dat".
type BlockStore struct {
	dir      string
	capacity int
	p        nodecrypto.Provider
	log      zerolog.Logger

	lastChunkIndex int
	lastChunk      []consensus.Block // the open chunk currently being filled
}

func chunkPath(dir string, index int) string {
	return filepath.Join(dir, strings.ToLower(strconv.FormatInt(int64(index), 16))+".dat")
}

// OpenBlockStore scans dir for existing chunk files, derives the current height by
// counting entries in the last (highest-indexed) chunk, and, unless that chunk is
// already full, loads it into memory as the open chunk ready to receive further
// appends; a full last chunk leaves the next chunk index open and empty (§4.6).
func OpenBlockStore(dir string, capacity int, p nodecrypto.Provider, log zerolog.Logger) (*BlockStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blockstore: create directory: %w", err)
	}
	bs := &BlockStore{
		dir:      dir,
		capacity: capacity,
		p:        p,
		log:      log.With().Str("component", "blockstore").Logger(),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("blockstore: read directory: %w", err)
	}
	maxIndex := -1
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".dat") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".dat")
		idx, err := strconv.ParseInt(stem, 16, 64)
		if err != nil {
			continue
		}
		if int(idx) > maxIndex {
			maxIndex = int(idx)
		}
	}

	if maxIndex < 0 {
		bs.lastChunkIndex = 0
		bs.lastChunk = nil
		return bs, nil
	}

	blocks, err := bs.loadChunk(maxIndex)
	if err != nil {
		bs.log.Error().Err(err).Int("chunk", maxIndex).Msg("corrupt chunk file at startup")
		return nil, err
	}
	if len(blocks) >= capacity {
		bs.lastChunkIndex = maxIndex + 1
		bs.lastChunk = nil
	} else {
		bs.lastChunkIndex = maxIndex
		bs.lastChunk = blocks
	}
	return bs, nil
}

func (bs *BlockStore) loadChunk(index int) ([]consensus.Block, error) {
	path := chunkPath(bs.dir, index)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	var doc chunkDocumentRaw
	if err := readDocument(path, &doc); err != nil {
		return nil, fmt.Errorf("blockstore: chunk %d corrupt: %w", index, err)
	}
	out := make([]consensus.Block, 0, len(doc.Blocks))
	for _, raw := range doc.Blocks {
		b, err := consensus.DecodeBlockJSON(raw, bs.p)
		if err != nil {
			return nil, fmt.Errorf("blockstore: chunk %d malformed block entry: %w", index, err)
		}
		out = append(out, *b)
	}
	return out, nil
}

// flushCurrentChunk writes the open chunk whole to disk, write-temp-then-rename
// (§5 "write-replace semantics per chunk file").
func (bs *BlockStore) flushCurrentChunk() error {
	doc := chunkDocument{Blocks: make([]any, len(bs.lastChunk))}
	for i := range bs.lastChunk {
		doc.Blocks[i] = bs.lastChunk[i].ToWire(bs.p)
	}
	path := chunkPath(bs.dir, bs.lastChunkIndex)
	if err := writeDocumentAtomic(path, doc); err != nil {
		bs.log.Error().Err(err).Str("path", path).Msg("failed to persist block store chunk")
		return err
	}
	return nil
}

// Append distributes blocks into chunk files, never exceeding capacity per file, and
// persists every touched chunk whole (§4.6).
func (bs *BlockStore) Append(blocks []consensus.Block) error {
	for _, b := range blocks {
		bs.lastChunk = append(bs.lastChunk, b)
		if err := bs.flushCurrentChunk(); err != nil {
			return err
		}
		if len(bs.lastChunk) >= bs.capacity {
			bs.lastChunkIndex++
			bs.lastChunk = nil
		}
	}
	return nil
}

// Height is the total confirmed block count across all chunk files (§4.6).
func (bs *BlockStore) Height() int {
	return bs.lastChunkIndex*bs.capacity + len(bs.lastChunk)
}

// Get returns the 1-indexed confirmed block at height (§4.6: chunk (h-1)/N, position
// (h-1)%N).
func (bs *BlockStore) Get(height int) (*consensus.Block, error) {
	if height < 1 || height > bs.Height() {
		return nil, fmt.Errorf("blockstore: height %d out of range", height)
	}
	chunkIdx := (height - 1) / bs.capacity
	pos := (height - 1) % bs.capacity

	if chunkIdx == bs.lastChunkIndex {
		return &bs.lastChunk[pos], nil
	}
	blocks, err := bs.loadChunk(chunkIdx)
	if err != nil {
		return nil, err
	}
	if pos >= len(blocks) {
		return nil, fmt.Errorf("blockstore: chunk %d missing entry at position %d", chunkIdx, pos)
	}
	return &blocks[pos], nil
}

// TopHash returns the hash of the highest confirmed block, or the zero hash if the
// store is empty.
func (bs *BlockStore) TopHash() ([32]byte, error) {
	h := bs.Height()
	if h == 0 {
		return [32]byte{}, nil
	}
	b, err := bs.Get(h)
	if err != nil {
		return [32]byte{}, err
	}
	return b.Hash(bs.p), nil
}

// TopDifficulty returns the difficulty bits of the highest confirmed block.
func (bs *BlockStore) TopDifficulty() (uint32, error) {
	h := bs.Height()
	if h == 0 {
		return 0, nil
	}
	b, err := bs.Get(h)
	if err != nil {
		return 0, err
	}
	return b.DifficultyBits, nil
}
