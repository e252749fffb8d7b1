package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrContextDone   = errors.New("context cancelled")
	ErrLockHeld      = errors.New("lock already held")
)

// ErrorKind groups vault errors by what the caller did wrong.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindPolicy     ErrorKind = "policy"
	KindOracle     ErrorKind = "oracle"
	KindNumeric    ErrorKind = "numeric"
	KindSettlement ErrorKind = "settlement"
)

// VaultError is a coded, terminal failure of a vault operation. Values are
// compared by identity, so wrap them with %w and test with errors.Is.
type VaultError struct {
	Code uint32
	Name string
	Kind ErrorKind
	Msg  string
}

func (e *VaultError) Error() string {
	return e.Msg
}

func newVaultError(code uint32, name string, kind ErrorKind, msg string) *VaultError {
	return &VaultError{Code: code, Name: name, Kind: kind, Msg: msg}
}

// Program error codes. 6003 belonged to a token-program check that has no
// counterpart here and stays unassigned so existing clients decode correctly.
var (
	ErrInvalidVault               = newVaultError(6000, "InvalidVault", KindValidation, "invalid vault identity")
	ErrInvalidVaultAuthority      = newVaultError(6001, "InvalidVaultAuthority", KindValidation, "invalid vault authority identity")
	ErrInvalidPosition            = newVaultError(6002, "InvalidPosition", KindValidation, "invalid position identity")
	ErrInvalidMint                = newVaultError(6004, "InvalidMint", KindValidation, "invalid asset")
	ErrInvalidReserveAccount      = newVaultError(6005, "InvalidReserveAccount", KindValidation, "invalid primary reserve account")
	ErrInvalidYieldReserveAccount = newVaultError(6006, "InvalidYieldReserveAccount", KindValidation, "invalid yield reserve account")
	ErrArithmeticOverflow         = newVaultError(6007, "ArithmeticOverflow", KindNumeric, "arithmetic overflow")
	ErrInsufficientLiquidity      = newVaultError(6008, "InsufficientLiquidity", KindPolicy, "insufficient liquidity in vault")
	ErrInvalidOracleOwner         = newVaultError(6009, "InvalidOracleOwner", KindOracle, "oracle feed owner mismatch")
	ErrOraclePriceUnavailable     = newVaultError(6010, "OraclePriceUnavailable", KindOracle, "oracle price unavailable")
	ErrOracleStale                = newVaultError(6011, "OracleStale", KindOracle, "oracle price is too stale")
	ErrOracleConfidenceTooHigh    = newVaultError(6012, "OracleConfidenceTooHigh", KindOracle, "oracle confidence interval too large")
	ErrOracleExponentMismatch     = newVaultError(6013, "OracleExponentMismatch", KindOracle, "oracle exponent mismatch")
	ErrInsufficientShares         = newVaultError(6014, "InsufficientShares", KindPolicy, "withdraw shares exceeds position shares")
	ErrZeroAmount                 = newVaultError(6015, "ZeroAmount", KindPolicy, "amount must be non-zero")
	ErrZeroShares                 = newVaultError(6016, "ZeroShares", KindPolicy, "shares must be non-zero")
)

// Settlement ledger errors.
var (
	ErrInsufficientFunds    = newVaultError(7000, "InsufficientFunds", KindSettlement, "insufficient funds in source account")
	ErrUnauthorizedTransfer = newVaultError(7001, "UnauthorizedTransfer", KindSettlement, "transfer authority does not own source account")
	ErrAssetMismatch        = newVaultError(7002, "AssetMismatch", KindSettlement, "account asset does not match transfer asset")
	ErrAccountNotFound      = newVaultError(7003, "AccountNotFound", KindSettlement, "ledger account not found")
)

// AsVaultError returns the coded error carried by err, if any.
func AsVaultError(err error) (*VaultError, bool) {
	var ve *VaultError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// VaultErrors lists every coded error in code order.
func VaultErrors() []*VaultError {
	return []*VaultError{
		ErrInvalidVault, ErrInvalidVaultAuthority, ErrInvalidPosition,
		ErrInvalidMint, ErrInvalidReserveAccount, ErrInvalidYieldReserveAccount,
		ErrArithmeticOverflow, ErrInsufficientLiquidity,
		ErrInvalidOracleOwner, ErrOraclePriceUnavailable, ErrOracleStale,
		ErrOracleConfidenceTooHigh, ErrOracleExponentMismatch,
		ErrInsufficientShares, ErrZeroAmount, ErrZeroShares,
		ErrInsufficientFunds, ErrUnauthorizedTransfer, ErrAssetMismatch, ErrAccountNotFound,
	}
}
