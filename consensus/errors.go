package consensus

import "fmt"

// ErrorCode is the closed set of structural/consensus failure tokens a caller can
// switch on. It mirrors the reference's failure taxonomy (spec.md §4.3, §6).
type ErrorCode string

const (
	ErrInvalidTxInputs       ErrorCode = "INVALID_TX_INPUTS"
	ErrInvalidTxOutputs      ErrorCode = "INVALID_TX_OUTPUTS"
	ErrInvalidTxAmounts      ErrorCode = "INVALID_TX_AMOUNTS"
	ErrInvalidTxUtxoSpent    ErrorCode = "INVALID_TX_UTXO_IS_SPENT"
	ErrInvalidTxModUtxo      ErrorCode = "INVALID_TX_MOD_UTXO"
	ErrInvalidMultipleReward ErrorCode = "INVALID_TX_MULTIPLE_REWARDS"
	ErrInvalidWrongReward    ErrorCode = "INVALID_TX_WRONG_REWARD_AMOUNT"

	ErrInvalidPrevHash   ErrorCode = "INVALID_PREVHASH"
	ErrInvalidDifficulty ErrorCode = "INVALID_DIFFICULTY"
	ErrInvalidPow        ErrorCode = "INVALID_POW"
	ErrInvalidDuplicate  ErrorCode = "INVALID_DUPLICATE"
	ErrInvalidError      ErrorCode = "INVALID_ERROR"

	ErrParse ErrorCode = "PARSE_ERROR"
)

// ConsensusError carries a stable ErrorCode plus a human-readable detail, the way
// the teacher's consensus.TxError binds an ErrorCode to a message.
type ConsensusError struct {
	Code ErrorCode
	Msg  string
}

func (e *ConsensusError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func cerr(code ErrorCode, msg string) error {
	return &ConsensusError{Code: code, Msg: msg}
}

// CodeOf extracts the ErrorCode from err, defaulting to ErrInvalidError for any
// error that did not originate as a *ConsensusError (an I/O failure, for instance).
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var ce *ConsensusError
	if asConsensusError(err, &ce) {
		return ce.Code
	}
	return ErrInvalidError
}

func asConsensusError(err error, target **ConsensusError) bool {
	ce, ok := err.(*ConsensusError)
	if !ok {
		return false
	}
	*target = ce
	return true
}
