package rpc

import (
	"errors"
	"net/http"

	"safedeal/core"
	"safedeal/core/state"
	"safedeal/native/common"
	"safedeal/native/safedeal"
	"safedeal/native/token"
)

// classify maps runtime errors onto an HTTP status and JSON-RPC code.
func classify(err error) (int, int) {
	switch {
	case errors.Is(err, safedeal.ErrDealNotFound),
		errors.Is(err, core.ErrReceiptNotFound),
		errors.Is(err, core.ErrDeferredNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, safedeal.ErrUnauthorized),
		errors.Is(err, core.ErrFaucetDisabled),
		errors.Is(err, common.ErrReadOnly):
		return http.StatusForbidden, codeForbidden
	case errors.Is(err, safedeal.ErrDealNotActive),
		errors.Is(err, core.ErrNonceMismatch),
		errors.Is(err, core.ErrSlotFull):
		return http.StatusConflict, codeConflict
	case errors.Is(err, safedeal.ErrInvalidMode),
		errors.Is(err, safedeal.ErrDeadlineNotInFuture),
		errors.Is(err, safedeal.ErrSelfDeal),
		errors.Is(err, safedeal.ErrZeroAmount),
		errors.Is(err, safedeal.ErrUnexpectedCoins),
		errors.Is(err, safedeal.ErrNoteTooLong),
		errors.Is(err, safedeal.ErrTokenNotAllowed),
		errors.Is(err, core.ErrWrongNetwork),
		errors.Is(err, core.ErrUnknownContract),
		errors.Is(err, core.ErrSlotNotAdvancing),
		errors.Is(err, core.ErrSlotNotInFuture),
		errors.Is(err, core.ErrSlotTooFar),
		errors.Is(err, core.ErrInvalidThread),
		errors.Is(err, core.ErrInvalidGas),
		errors.Is(err, common.ErrUnknownFunction):
		return http.StatusBadRequest, codeInvalidParams
	case errors.Is(err, safedeal.ErrInsufficientReserve),
		errors.Is(err, safedeal.ErrTokenTransferFailed),
		errors.Is(err, state.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance),
		errors.Is(err, core.ErrCallDepth),
		errors.Is(err, core.ErrFeeOverflow):
		return http.StatusUnprocessableEntity, codeExecutionFailed
	default:
		return http.StatusInternalServerError, codeServerError
	}
}

func writeNodeError(w http.ResponseWriter, id interface{}, message string, err error) {
	status, code := classify(err)
	writeError(w, status, id, code, message, err.Error())
}
