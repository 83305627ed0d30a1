package chain

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the engine's operating parameters: network identity, on-disk location,
// block-store chunking, and difficulty-schedule constants (§3, §4.6, §4.9). Validated
// the way the reference node validates its Config — explicit field checks, no panics.
type Config struct {
	Network  string `json:"network"`
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`

	// ChunkCapacity is N, the block store's per-file chunk capacity (§3: default 32,
	// production 512).
	ChunkCapacity int `json:"chunk_capacity"`

	// DifficultyAdjustment is R, the window size in blocks over which difficulty is
	// held constant before retargeting (§4.9: default 32, production 512).
	DifficultyAdjustment uint64 `json:"difficulty_adjustment"`

	// InitialDifficulty is the compact target used for the first window (§4.9).
	InitialDifficulty uint32 `json:"initial_difficulty"`

	// TargetBlockTime is the number of seconds a block is expected to take; spec.md
	// does not pin a concrete value, so this is a configuration constant rather than a
	// hardcoded one (see DESIGN.md).
	TargetBlockTime uint64 `json:"target_block_time"`

	// BlockReward is current_reward, the coinbase payout cap (§4.3, §4.8). spec.md
	// never describes a halving schedule, so this is a fixed configuration constant
	// rather than a height-dependent function (see DESIGN.md).
	BlockReward float64 `json:"block_reward"`
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// DefaultDataDir mirrors the reference node's per-user default data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".corechain"
	}
	return filepath.Join(home, ".corechain")
}

// DefaultConfig returns the devnet defaults: chunk capacity and difficulty-adjustment
// window both 32 (§3, §4.9).
func DefaultConfig() Config {
	return Config{
		Network:              "devnet",
		DataDir:              DefaultDataDir(),
		LogLevel:             "info",
		ChunkCapacity:        32,
		DifficultyAdjustment: 32,
		InitialDifficulty:    0x2000ffff,
		TargetBlockTime:      600,
		BlockReward:          50,
	}
}

// ProductionConfig returns the production-scale defaults: chunk capacity and
// difficulty-adjustment window both 512 (§3, §4.9).
func ProductionConfig() Config {
	cfg := DefaultConfig()
	cfg.Network = "mainnet"
	cfg.ChunkCapacity = 512
	cfg.DifficultyAdjustment = 512
	return cfg
}

// ValidateConfig checks cfg field by field, the way the reference node's
// node.ValidateConfig does, returning a descriptive error rather than panicking.
func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Network) == "" {
		return errors.New("network is required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if cfg.ChunkCapacity <= 0 {
		return errors.New("chunk_capacity must be > 0")
	}
	if cfg.DifficultyAdjustment == 0 {
		return errors.New("difficulty_adjustment must be > 0")
	}
	if cfg.TargetBlockTime == 0 {
		return errors.New("target_block_time must be > 0")
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	return nil
}
