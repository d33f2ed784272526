package safedeal

import "errors"

var (
	errNilState = errors.New("safedeal engine: state not configured")
	errNilHost  = errors.New("safedeal engine: host not configured")

	ErrDealNotFound        = errors.New("safedeal: deal does not exist")
	ErrInvalidMode         = errors.New("safedeal: invalid mode: must be 0 (auto-release) or 1 (auto-refund)")
	ErrDeadlineNotInFuture = errors.New("safedeal: deadline must be in the future")
	ErrSelfDeal            = errors.New("safedeal: client and freelancer must be different")
	ErrZeroAmount          = errors.New("safedeal: amount must be greater than 0")
	ErrInsufficientReserve = errors.New("safedeal: attached coins do not cover the execution reserve")
	ErrUnexpectedCoins     = errors.New("safedeal: token deals accept no coins without auto execution")
	ErrTokenNotAllowed     = errors.New("safedeal: token not allowed")
	ErrTokenTransferFailed = errors.New("safedeal: token transfer failed, ensure approval is set")
	ErrUnauthorized        = errors.New("safedeal: caller not authorized")
	ErrDealNotActive       = errors.New("safedeal: deal must be active")
	ErrNoteTooLong         = errors.New("safedeal: note too long")
)
