package chain

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/rs/zerolog"

	"corechain.dev/node/consensus"
	nodecrypto "corechain.dev/node/crypto"
)

func mineBlock(t *testing.T, p nodecrypto.Provider, b *consensus.Block) {
	t.Helper()
	for n := uint64(0); ; n++ {
		nonce := []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
		for len(nonce) > 1 && nonce[0] == 0 {
			nonce = nonce[1:]
		}
		b.Nonce = append([]byte(nil), nonce...)
		ok, err := consensus.PowSatisfied(b.Hash(p), b.DifficultyBits)
		if err != nil {
			t.Fatalf("PowSatisfied: %v", err)
		}
		if ok {
			return
		}
		if n > 2_000_000 {
			t.Fatalf("failed to mine a block within the iteration budget")
		}
	}
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.ChunkCapacity = 32
	cfg.DifficultyAdjustment = 32
	cfg.InitialDifficulty = 0x2000ffff
	cfg.BlockReward = 50
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	eng, err := NewEngine(cfg, nodecrypto.StdProvider{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng
}

func coinbaseTx(t *testing.T, pk []byte, amount float32) consensus.Transaction {
	t.Helper()
	tx := consensus.Transaction{Outputs: []consensus.UTXO{{OwnerPK: pk, Amount: amount, Index: 0}}}
	if err := tx.Make(); err != nil {
		t.Fatalf("make coinbase: %v", err)
	}
	return tx
}

func dummyPK() []byte {
	pk := make([]byte, consensus.PubKeyDERLen)
	pk[0] = 0xAB
	return pk
}

func TestEngineGenesisAcceptance(t *testing.T) {
	cfg := testConfig(t)
	eng := newTestEngine(t, cfg)
	p := nodecrypto.StdProvider{}

	b := consensus.Block{
		Version:        1,
		Timestamp:      1_700_000_000,
		DifficultyBits: cfg.InitialDifficulty,
		Txs:            []consensus.Transaction{coinbaseTx(t, dummyPK(), 50)},
	}
	mineBlock(t, p, &b)

	status := eng.SubmitBlock(b)
	if status != StatusValid {
		t.Fatalf("expected VALID, got %s", status)
	}
	if got := eng.Height(); got != 1 {
		t.Fatalf("expected height 1, got %d", got)
	}
	if got := eng.EstablishedHeight(); got != 0 {
		t.Fatalf("expected established height 0 (still in fork tree), got %d", got)
	}
	top, err := eng.TopHash()
	if err != nil {
		t.Fatalf("tophash: %v", err)
	}
	if top != b.Hash(p) {
		t.Fatalf("expected tophash to equal the submitted block's hash")
	}
}

func TestEngineRejectsLowerDifficulty(t *testing.T) {
	cfg := testConfig(t)
	eng := newTestEngine(t, cfg)

	b := consensus.Block{
		Version:        1,
		Timestamp:      1,
		DifficultyBits: 0x20FFFFFF, // does not match cfg.InitialDifficulty
	}
	status := eng.SubmitBlock(b)
	if status != BlockStatus(consensus.ErrInvalidDifficulty) {
		t.Fatalf("expected INVALID_DIFFICULTY, got %s", status)
	}
	if got := eng.Height(); got != 0 {
		t.Fatalf("expected height to remain 0, got %d", got)
	}
}

func TestEngineRejectsMultipleCoinbases(t *testing.T) {
	cfg := testConfig(t)
	eng := newTestEngine(t, cfg)
	p := nodecrypto.StdProvider{}

	b := consensus.Block{
		Version:        1,
		Timestamp:      1,
		DifficultyBits: cfg.InitialDifficulty,
		Txs: []consensus.Transaction{
			coinbaseTx(t, dummyPK(), 50),
			coinbaseTx(t, dummyPK(), 50),
		},
	}
	mineBlock(t, p, &b)

	status := eng.SubmitBlock(b)
	if status != BlockStatus(consensus.ErrInvalidMultipleReward) {
		t.Fatalf("expected INVALID_TX_MULTIPLE_REWARDS, got %s", status)
	}
	if got := eng.Height(); got != 0 {
		t.Fatalf("expected height to remain 0, got %d", got)
	}
}

func TestEngineRewardCappedCoinbase(t *testing.T) {
	p := nodecrypto.StdProvider{}

	over := testConfig(t)
	engOver := newTestEngine(t, over)
	bOver := consensus.Block{
		Version:        1,
		Timestamp:      1,
		DifficultyBits: over.InitialDifficulty,
		Txs:            []consensus.Transaction{coinbaseTx(t, dummyPK(), float32(over.BlockReward+1))},
	}
	mineBlock(t, p, &bOver)
	if status := engOver.SubmitBlock(bOver); status != BlockStatus(consensus.ErrInvalidWrongReward) {
		t.Fatalf("expected INVALID_TX_WRONG_REWARD_AMOUNT, got %s", status)
	}

	exact := testConfig(t)
	engExact := newTestEngine(t, exact)
	bExact := consensus.Block{
		Version:        1,
		Timestamp:      1,
		DifficultyBits: exact.InitialDifficulty,
		Txs:            []consensus.Transaction{coinbaseTx(t, dummyPK(), float32(exact.BlockReward))},
	}
	mineBlock(t, p, &bExact)
	if status := engExact.SubmitBlock(bExact); status != StatusValid {
		t.Fatalf("expected VALID for a coinbase paying exactly the reward cap, got %s", status)
	}
}

func TestEngineMergesAfterReorgBufferExceeded(t *testing.T) {
	cfg := testConfig(t)
	eng := newTestEngine(t, cfg)
	p := nodecrypto.StdProvider{}

	prev := [32]byte{}
	for i := 0; i < 6; i++ {
		b := consensus.Block{
			Version:        1,
			PrevHash:       prev,
			Timestamp:      uint64(1_700_000_000 + i),
			DifficultyBits: cfg.InitialDifficulty,
			Txs:            []consensus.Transaction{coinbaseTx(t, dummyPK(), 50)},
		}
		mineBlock(t, p, &b)
		if status := eng.SubmitBlock(b); status != StatusValid {
			t.Fatalf("block %d: expected VALID, got %s", i+1, status)
		}
		prev = b.Hash(p)
	}

	if got := eng.Height(); got != 6 {
		t.Fatalf("expected height 6 after 6 blocks, got %d", got)
	}
	// Crossing tree height 6 triggers attempt_merge, which keeps exactly 3 blocks of
	// reorg buffer and confirms the rest (§4.8 "Merge protocol").
	if got := eng.EstablishedHeight(); got != 3 {
		t.Fatalf("expected established height 3 after the reorg buffer kicks in, got %d", got)
	}
}

func TestEngineSpendAcrossForkBoundary(t *testing.T) {
	cfg := testConfig(t)
	eng := newTestEngine(t, cfg)
	p := nodecrypto.StdProvider{}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pk, err := p.EncodePublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("encode pubkey: %v", err)
	}

	// Block A: genesis, coinbase produces u.
	coinbase := coinbaseTx(t, pk, 50)
	blockA := consensus.Block{Version: 1, Timestamp: 1, DifficultyBits: cfg.InitialDifficulty, Txs: []consensus.Transaction{coinbase}}
	mineBlock(t, p, &blockA)
	if status := eng.SubmitBlock(blockA); status != StatusValid {
		t.Fatalf("block A: expected VALID, got %s", status)
	}

	producingTxid := coinbase.TxID(p)
	spendU := func(outputs []consensus.UTXO) consensus.UTXO {
		in := consensus.UTXO{OwnerPK: pk, Amount: 50, Txid: append([]byte(nil), producingTxid[:]...), Index: 0}
		sig, err := in.Sign(priv, outputs, p)
		if err != nil {
			t.Fatalf("sign input: %v", err)
		}
		in.UnlockSig = sig
		return in
	}

	buildSpend := func(nonceSeed byte) consensus.Transaction {
		outputs := []consensus.UTXO{{OwnerPK: pk, Amount: 50, Index: 0}}
		in := spendU(outputs)
		return consensus.Transaction{Inputs: []consensus.UTXO{in}, Outputs: outputs, Nonce: []byte{nonceSeed, 1, 2, 3, 4, 5, 6, 7}}
	}

	// Block B: height 2, spends u. Expect VALID (found via fork_produced).
	spendB := buildSpend(1)
	blockB := consensus.Block{Version: 1, PrevHash: blockA.Hash(p), Timestamp: 2, DifficultyBits: cfg.InitialDifficulty, Txs: []consensus.Transaction{spendB}}
	mineBlock(t, p, &blockB)
	if status := eng.SubmitBlock(blockB); status != StatusValid {
		t.Fatalf("block B: expected VALID, got %s", status)
	}

	// Sibling C of B, also spends u on a different branch. Expect VALID.
	spendC := buildSpend(2)
	blockC := consensus.Block{Version: 1, PrevHash: blockA.Hash(p), Timestamp: 3, DifficultyBits: cfg.InitialDifficulty, Txs: []consensus.Transaction{spendC}}
	mineBlock(t, p, &blockC)
	if status := eng.SubmitBlock(blockC); status != StatusValid {
		t.Fatalf("block C: expected VALID, got %s", status)
	}

	// Child D of C spends u again, on the SAME branch as C. Expect INVALID_TX_UTXO_IS_SPENT.
	spendD := buildSpend(3)
	blockD := consensus.Block{Version: 1, PrevHash: blockC.Hash(p), Timestamp: 4, DifficultyBits: cfg.InitialDifficulty, Txs: []consensus.Transaction{spendD}}
	mineBlock(t, p, &blockD)
	if status := eng.SubmitBlock(blockD); status != BlockStatus(consensus.ErrInvalidTxUtxoSpent) {
		t.Fatalf("block D: expected INVALID_TX_UTXO_IS_SPENT, got %s", status)
	}
}
