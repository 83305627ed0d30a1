package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"corechain.dev/node/chain"
	nodecrypto "corechain.dev/node/crypto"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "corenode",
		Short: "corenode runs and initializes a chain-engine node",
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./corenode.toml)")
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(runCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads corenode.toml (or --config) and environment overrides into a
// chain.Config, starting from the devnet defaults (§3).
func loadConfig() (chain.Config, error) {
	cfg := chain.DefaultConfig()

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("corenode")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("CORENODE")
	v.AutomaticEnv()

	v.SetDefault("network", cfg.Network)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("chunk_capacity", cfg.ChunkCapacity)
	v.SetDefault("difficulty_adjustment", cfg.DifficultyAdjustment)
	v.SetDefault("initial_difficulty", cfg.InitialDifficulty)
	v.SetDefault("target_block_time", cfg.TargetBlockTime)
	v.SetDefault("block_reward", cfg.BlockReward)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	cfg.Network = v.GetString("network")
	cfg.DataDir = v.GetString("data_dir")
	cfg.LogLevel = v.GetString("log_level")
	cfg.ChunkCapacity = v.GetInt("chunk_capacity")
	cfg.DifficultyAdjustment = v.GetUint64("difficulty_adjustment")
	cfg.InitialDifficulty = uint32(v.GetUint("initial_difficulty"))
	cfg.TargetBlockTime = v.GetUint64("target_block_time")
	cfg.BlockReward = v.GetFloat64("block_reward")

	return cfg, chain.ValidateConfig(cfg)
}

func newLogger(cfg chain.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Str("network", cfg.Network).Logger()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "create the data directory and persist the initial empty chain state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
			p := nodecrypto.StdProvider{}
			eng, err := chain.NewEngine(cfg, p, newLogger(cfg))
			if err != nil {
				return fmt.Errorf("init engine: %w", err)
			}
			if err := eng.Save(); err != nil {
				return fmt.Errorf("save initial state: %w", err)
			}
			fmt.Printf("initialized corenode data directory at %s\n", cfg.DataDir)
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "start the chain engine and block until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			p := nodecrypto.StdProvider{}

			eng, err := chain.NewEngine(cfg, p, log)
			if err != nil {
				return fmt.Errorf("start engine: %w", err)
			}

			log.Info().
				Str("data_dir", cfg.DataDir).
				Int("height", eng.Height()).
				Msg("corenode started")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			log.Info().Msg("shutting down, merging fork tree and flushing state")
			if err := eng.Save(); err != nil {
				log.Error().Err(err).Msg("failed to save state on shutdown")
				return err
			}
			log.Info().Int("height", eng.Height()).Msg("corenode stopped")
			return nil
		},
	}
}
