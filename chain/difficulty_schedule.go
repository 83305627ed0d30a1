package chain

import (
	"fmt"

	"corechain.dev/node/consensus"
)

// DifficultySchedule computes the difficulty bits that apply to a given block height
// (§4.9). Chunk 0 (heights 1..R) always uses the configured initial difficulty; chunk
// c >= 1 retargets from chunk c-1's difficulty using the timestamps at chunk c-1's
// boundaries.
//
// spec.md §9 flags that the reference recomputes a chunk's difficulty every time it is
// queried at a height divisible by R; DESIGN.md decided instead to fix each chunk's
// difficulty exactly once, when the chunk closes at merge time, matching §4.9 ("after
// each successful merge, if the merge crossed a chunk boundary, the global
// current_difficulty is refreshed"). A chunk's closing boundary height sits inside the
// 3-block reorg buffer until a merge carries it past that buffer, so only ConfirmThrough
// — called by the engine after a merge — writes to memo. ExpectedDifficulty, used for
// an in-fork query against a still-reorg-able branch, computes transiently and never
// persists: memoizing from a tentative fork-tree timestamp would fix the chunk's
// difficulty from data that can still be reorganized out, and two nodes that observed
// competing forks in a different order would then permanently disagree on it.
type DifficultySchedule struct {
	window      uint64
	targetTime  uint64
	initialBits uint32
	memo        map[uint64]uint32
	// nextToConfirm is the lowest chunk index not yet durably memoized.
	nextToConfirm uint64
}

// NewDifficultySchedule constructs a schedule from cfg's window, target block time,
// and initial difficulty. Chunk 0 needs no computation and is confirmed up front.
func NewDifficultySchedule(cfg Config) *DifficultySchedule {
	return &DifficultySchedule{
		window:        cfg.DifficultyAdjustment,
		targetTime:    cfg.TargetBlockTime,
		initialBits:   cfg.InitialDifficulty,
		memo:          map[uint64]uint32{0: cfg.InitialDifficulty},
		nextToConfirm: 1,
	}
}

// TimestampLookup resolves the timestamp of the confirmed or in-fork block at height h.
// The caller supplies this so a fork-tree route can stand in for blocks beyond the
// confirmed tip during an in-fork difficulty query (§4.9).
type TimestampLookup func(height uint64) (timestamp uint64, ok bool)

// ChunkOf returns the zero-based chunk index a given height falls in.
func (s *DifficultySchedule) ChunkOf(height uint64) uint64 {
	return (height - 1) / s.window
}

// ExpectedDifficulty returns the difficulty bits a block at height must carry. If the
// owning chunk is already confirmed, this is a memo read; otherwise it is computed
// transiently from lookup and not memoized (see the type doc for why).
func (s *DifficultySchedule) ExpectedDifficulty(height uint64, lookup TimestampLookup) (uint32, error) {
	if height == 0 {
		return 0, fmt.Errorf("difficulty schedule: height must be >= 1")
	}
	return s.resolveChunk(s.ChunkOf(height), lookup, false)
}

// ConfirmThrough durably memoizes every chunk whose closing boundary height (c*window)
// is now established/confirmed (<= establishedHeight), using lookup to resolve
// confirmed-chain timestamps. The chain engine calls this after a merge (§4.9).
func (s *DifficultySchedule) ConfirmThrough(establishedHeight uint64, lookup TimestampLookup) error {
	for s.nextToConfirm*s.window <= establishedHeight {
		if _, err := s.resolveChunk(s.nextToConfirm, lookup, true); err != nil {
			return err
		}
		s.nextToConfirm++
	}
	return nil
}

func (s *DifficultySchedule) resolveChunk(chunk uint64, lookup TimestampLookup, persist bool) (uint32, error) {
	if d, ok := s.memo[chunk]; ok {
		return d, nil
	}
	prevBits, err := s.resolveChunk(chunk-1, lookup, persist)
	if err != nil {
		return 0, err
	}

	t0Height := (chunk-1)*s.window + 1
	t1Height := chunk * s.window
	t0, ok := lookup(t0Height)
	if !ok {
		return 0, fmt.Errorf("difficulty schedule: missing timestamp at height %d", t0Height)
	}
	t1, ok := lookup(t1Height)
	if !ok {
		return 0, fmt.Errorf("difficulty schedule: missing timestamp at height %d", t1Height)
	}

	observed := consensus.ObservedSecondsPerBlock(t0, t1, s.window)
	deviation := float64(s.targetTime) / observed
	bits := consensus.RetargetDifficulty(prevBits, deviation)

	if persist {
		s.memo[chunk] = bits
	}
	return bits, nil
}
