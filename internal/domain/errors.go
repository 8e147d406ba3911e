package domain

import "errors"

// Infrastructure sentinels returned by stores, caches, and transports.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("concurrent modification")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrInvariant     = errors.New("invariant violated")
)

// ErrorKind classifies an engine rejection so clients can present an
// actionable message.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindAccess     ErrorKind = "access"
	KindCapacity   ErrorKind = "capacity"
	KindState      ErrorKind = "state"
	KindFunds      ErrorKind = "funds"
)

// Error is a classified rejection raised by the lifecycle controller. Every
// value is a package-level sentinel so callers match with errors.Is.
type Error struct {
	Kind ErrorKind
	Code string
	msg  string
}

func (e *Error) Error() string { return e.msg }

// byCode indexes every engine error by its code.
var byCode = map[string]*Error{}

func newError(kind ErrorKind, code, msg string) *Error {
	e := &Error{Kind: kind, Code: code, msg: msg}
	byCode[code] = e
	return e
}

// ErrorByCode returns the engine error with the given machine code.
func ErrorByCode(code string) (*Error, bool) {
	e, ok := byCode[code]
	return e, ok
}

// Validation.
var (
	ErrInvalidParameter = newError(KindValidation, "InvalidParameter", "invalid parameter")
	ErrZeroAmount       = newError(KindValidation, "ZeroAmount", "amount must be greater than zero")
	ErrInvalidAmount    = newError(KindValidation, "InvalidAmount", "invalid amount")
	ErrOverflow         = newError(KindValidation, "Overflow", "amount overflows 64 bits")
)

// Access control.
var (
	ErrNotIssuer = newError(KindAccess, "NotIssuer", "caller is not the issuer")
	ErrNotOwner  = newError(KindAccess, "NotOwner", "caller does not own the claim")
)

// Capacity.
var (
	ErrCapacityExceeded = newError(KindCapacity, "CapacityExceeded", "purchase exceeds remaining capacity")
)

// State.
var (
	ErrSaleInactive    = newError(KindState, "SaleInactive", "sale is not active")
	ErrInvalidState    = newError(KindState, "InvalidState", "operation not permitted in current sale state")
	ErrNotMatured      = newError(KindState, "NotMatured", "claim has not reached maturity")
	ErrAlreadyRedeemed = newError(KindState, "AlreadyRedeemed", "claim already redeemed")
)

// Funds.
var (
	ErrInsufficientFunds           = newError(KindFunds, "InsufficientFunds", "insufficient raised funds")
	ErrInsufficientRedemptionFunds = newError(KindFunds, "InsufficientRedemptionFunds", "insufficient redemption pool balance")
)

// Classify returns the engine error wrapped in err, if any.
func Classify(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
