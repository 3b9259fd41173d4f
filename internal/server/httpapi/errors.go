package httpapi

import (
	"errors"
	"net/http"

	"github.com/contractorvault/broker/internal/common"
	"github.com/contractorvault/broker/internal/httpx"
)

// writeBrokerError maps the error taxonomy onto HTTP. Denial reasons get
// distinct machine codes so a consumer can tell "retry later" from
// "this grant is gone", while internal failures stay opaque.
func (s *Server) writeBrokerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrValidation):
		httpx.WriteError(w, http.StatusBadRequest, "VALIDATION", err.Error())
	case errors.Is(err, common.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "NOT_FOUND", "not found")
	case errors.Is(err, common.ErrUnauthorized):
		httpx.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
	case errors.Is(err, common.ErrExpired):
		httpx.WriteError(w, http.StatusForbidden, "TOKEN_EXPIRED", "token has expired")
	case errors.Is(err, common.ErrRevoked):
		httpx.WriteError(w, http.StatusForbidden, "TOKEN_REVOKED", "token has been revoked")
	case errors.Is(err, common.ErrAlreadyUsed):
		httpx.WriteError(w, http.StatusForbidden, "TOKEN_USED", "token has already been used")
	case errors.Is(err, common.ErrIPNotAllowed):
		httpx.WriteError(w, http.StatusForbidden, "IP_NOT_ALLOWED", "request address is not on the allow list")
	case errors.Is(err, common.ErrDeviceBlocked):
		httpx.WriteError(w, http.StatusForbidden, "DEVICE_BLOCKED", "device is blocked")
	case errors.Is(err, common.ErrTrustTooLow):
		httpx.WriteError(w, http.StatusForbidden, "TRUST_TOO_LOW", "device trust is below the required threshold")
	default:
		httpx.WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}
