package exchange

import (
	"errors"
	"fmt"

	"github.com/uhyunpark/nftsettle/pkg/app/access"
	"github.com/uhyunpark/nftsettle/pkg/app/delegate"
	"github.com/uhyunpark/nftsettle/pkg/app/pool"
	"github.com/uhyunpark/nftsettle/pkg/app/types"
	"github.com/uhyunpark/nftsettle/pkg/ledger"
)

var (
	ErrClosed                = errors.New("closed")
	ErrInvalidParameters     = errors.New("has invalid parameters")
	ErrFailedAuthorization   = errors.New("failed authorization")
	ErrWrongSide             = errors.New("has the wrong side")
	ErrOrdersCannotBeMatched = errors.New("orders cannot be matched")
	ErrPolicyNotWhitelisted  = errors.New("policy is not whitelisted")
	ErrInvalidPaymentToken   = errors.New("invalid payment token")
	ErrInsufficientValue     = errors.New("insufficient value")
	ErrFeesExceedPrice       = errors.New("total amount of fees are more than the price")
	ErrNotSentByTrader       = errors.New("not sent by trader")
	ErrAlreadyCancelled      = errors.New("order cancelled or filled")
	ErrAlreadyInitialized    = errors.New("already initialized")
	ErrNotInitialized        = errors.New("not initialized")
	ErrSameVersion           = errors.New("implementation already active")
	ErrUnknownContract       = errors.New("no contract at address")
	ErrEmptyBatch            = errors.New("no executions")
)

// SideError attributes a validation failure to one order of the pair.
type SideError struct {
	Side types.Side
	Err  error
}

func (e *SideError) Error() string {
	return fmt.Sprintf("%s %s", e.Side, e.Err)
}

func (e *SideError) Unwrap() error { return e.Err }

func sideErr(side types.Side, err error) error {
	return &SideError{Side: side, Err: err}
}

// Kind classifies settlement errors so callers can branch without matching
// individual sentinels.
type Kind string

const (
	KindNone                         Kind = ""
	KindStaleOrInvalidOrder          Kind = "StaleOrInvalidOrder"
	KindAuthorizationFailure         Kind = "AuthorizationFailure"
	KindPolicyRejected               Kind = "PolicyRejected"
	KindTransferAuthorizationFailure Kind = "TransferAuthorizationFailure"
	KindInsufficientFunds            Kind = "InsufficientFunds"
	KindSystemClosed                 Kind = "SystemClosed"
	KindUnauthorized                 Kind = "Unauthorized"
	KindInvalidRequest               Kind = "InvalidRequest"
)

// KindOf maps an error from this package (or the contracts it calls) to its Kind.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrClosed):
		return KindSystemClosed
	case errors.Is(err, ErrInvalidParameters), errors.Is(err, ErrWrongSide),
		errors.Is(err, ErrAlreadyCancelled):
		return KindStaleOrInvalidOrder
	case errors.Is(err, ErrFailedAuthorization):
		return KindAuthorizationFailure
	case errors.Is(err, ErrOrdersCannotBeMatched), errors.Is(err, ErrPolicyNotWhitelisted):
		return KindPolicyRejected
	case errors.Is(err, delegate.ErrContractNotApproved), errors.Is(err, delegate.ErrApprovalRevoked),
		errors.Is(err, ledger.ErrNotOwnerOrApproved), errors.Is(err, ledger.ErrInsufficientAllowance):
		return KindTransferAuthorizationFailure
	case errors.Is(err, ErrInsufficientValue), errors.Is(err, pool.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrInsufficientBalance):
		return KindInsufficientFunds
	case errors.Is(err, access.ErrNotOwner), errors.Is(err, ErrNotSentByTrader),
		errors.Is(err, pool.ErrUnauthorizedCaller):
		return KindUnauthorized
	default:
		return KindInvalidRequest
	}
}
