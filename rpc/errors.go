package rpc

import (
	"errors"
	"net/http"

	"lpleverage/core"
	"lpleverage/native/bank"
	nativecommon "lpleverage/native/common"
	"lpleverage/native/leverage"
	"lpleverage/native/vault"
)

// moduleError maps an engine failure to its JSON-RPC error. Caller
// permission failures are unauthorized, every other rejection is a server
// error carrying the reason.
func moduleError(err error) *RPCError {
	if err == nil {
		return nil
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	switch {
	case errors.Is(err, leverage.ErrUnauthorized),
		errors.Is(err, leverage.ErrInvalidCaller),
		errors.Is(err, vault.ErrUnauthorized):
		return &RPCError{HTTPStatus: http.StatusForbidden, Code: codeUnauthorized, Message: "unauthorized", Data: err.Error()}
	case errors.Is(err, core.ErrNodeClosed):
		return &RPCError{HTTPStatus: http.StatusServiceUnavailable, Code: codeServerError, Message: "node unavailable", Data: err.Error()}
	case errors.Is(err, nativecommon.ErrModulePaused):
		return &RPCError{HTTPStatus: http.StatusServiceUnavailable, Code: codeServerError, Message: "leverage module paused", Data: err.Error()}
	case errors.Is(err, bank.ErrUnknownToken), errors.Is(err, leverage.ErrInvalidBorrowingKey):
		return &RPCError{HTTPStatus: http.StatusNotFound, Code: codeServerError, Message: "not found", Data: err.Error()}
	default:
		return &RPCError{HTTPStatus: http.StatusBadRequest, Code: codeServerError, Message: "execution failed", Data: err.Error()}
	}
}
