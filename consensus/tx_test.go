package consensus

import (
	"testing"

	nodecrypto "corechain.dev/node/crypto"
)

func buildSignedTransfer(t *testing.T, p nodecrypto.Provider) *Transaction {
	t.Helper()
	priv := mustKey(t)
	pk := mustPK(t, p, priv)

	tx := &Transaction{
		Outputs: []UTXO{
			{OwnerPK: pk, Amount: 4, Index: 0},
			{OwnerPK: pk, Amount: 1, Index: 1},
		},
	}
	if err := tx.Make(); err != nil {
		t.Fatalf("make: %v", err)
	}

	in := UTXO{OwnerPK: pk, Amount: 5, Txid: make([]byte, 32), Index: 0}
	sig, err := in.Sign(priv, tx.Outputs, p)
	if err != nil {
		t.Fatalf("sign input: %v", err)
	}
	in.UnlockSig = sig
	tx.Inputs = []UTXO{in}
	return tx
}

func TestTransactionWireRoundTripPreservesTxID(t *testing.T) {
	p := nodecrypto.StdProvider{}
	tx := buildSignedTransfer(t, p)

	wantTxid := tx.TxID(p)
	w := tx.ToWire(p)

	back, err := transactionFromWire(w, p)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if back.TxID(p) != wantTxid {
		t.Fatalf("round-tripped txid changed")
	}
}

func TestTransactionCanonicalValidateAndCheckInputs(t *testing.T) {
	p := nodecrypto.StdProvider{}
	tx := buildSignedTransfer(t, p)

	if err := tx.CanonicalValidate(); err != nil {
		t.Fatalf("canonical validate: %v", err)
	}
	if err := tx.CheckInputs(p); err != nil {
		t.Fatalf("check inputs: %v", err)
	}
}

func TestTransactionRejectsOutOfOrderOutputIndices(t *testing.T) {
	tx := &Transaction{
		Outputs: []UTXO{
			{OwnerPK: []byte("pk"), Amount: 1, Index: 1},
			{OwnerPK: []byte("pk"), Amount: 1, Index: 0},
		},
	}
	if err := tx.CanonicalValidate(); CodeOf(err) != ErrInvalidTxOutputs {
		t.Fatalf("expected ErrInvalidTxOutputs, got %v", err)
	}
}

func TestTransactionFeeIsZeroForCoinbase(t *testing.T) {
	tx := &Transaction{Outputs: []UTXO{{OwnerPK: []byte("pk"), Amount: 50, Index: 0}}}
	if fee := tx.TransactionFee(); fee != 0 {
		t.Fatalf("expected coinbase fee 0, got %v", fee)
	}
}

func TestTransactionRejectsOutgoingExceedingIngoing(t *testing.T) {
	p := nodecrypto.StdProvider{}
	priv := mustKey(t)
	pk := mustPK(t, p, priv)

	tx := &Transaction{
		Inputs:  []UTXO{{OwnerPK: pk, Amount: 1, Txid: make([]byte, 32), Index: 0, UnlockSig: make([]byte, 64)}},
		Outputs: []UTXO{{OwnerPK: pk, Amount: 2, Index: 0}},
	}
	if err := tx.CanonicalValidate(); CodeOf(err) != ErrInvalidTxAmounts {
		t.Fatalf("expected ErrInvalidTxAmounts, got %v", err)
	}
}
