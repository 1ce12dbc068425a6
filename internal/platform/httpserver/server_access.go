package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	accesserrors "agora/contexts/access-control/operator-registry/domain/errors"
	accesshttp "agora/contexts/access-control/operator-registry/transport/http"
)

func (s *Server) handleGrantOperator(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeAccessError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	var req accesshttp.GrantOperatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAccessError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.access.Handler.GrantOperatorHandler(
		r.Context(),
		userID,
		r.Header.Get("Idempotency-Key"),
		req,
	)
	if err != nil {
		writeAccessDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRevokeOperator(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeAccessError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	var req accesshttp.RevokeOperatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAccessError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.access.Handler.RevokeOperatorHandler(
		r.Context(),
		userID,
		r.Header.Get("Idempotency-Key"),
		req,
	)
	if err != nil {
		writeAccessDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListOperators(w http.ResponseWriter, r *http.Request) {
	resp, err := s.access.Handler.ListOperatorsHandler(r.Context())
	if err != nil {
		writeAccessDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetOperator(w http.ResponseWriter, r *http.Request) {
	resp, err := s.access.Handler.GetOperatorHandler(r.Context(), r.PathValue("operator_id"))
	if err != nil {
		writeAccessDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeAccessDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, accesserrors.ErrOperatorNotFound):
		writeAccessError(w, http.StatusNotFound, "operator_not_found", err.Error())
	case errors.Is(err, accesserrors.ErrInvalidOperatorID):
		writeAccessError(w, http.StatusBadRequest, "invalid_operator_id", err.Error())
	case errors.Is(err, accesserrors.ErrIdempotencyKeyRequired):
		writeAccessError(w, http.StatusBadRequest, "idempotency_key_required", err.Error())
	case errors.Is(err, accesserrors.ErrForbidden):
		writeAccessError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, accesserrors.ErrOperatorAlreadyGranted):
		writeAccessError(w, http.StatusConflict, "operator_already_granted", err.Error())
	case errors.Is(err, accesserrors.ErrOperatorNotGranted):
		writeAccessError(w, http.StatusConflict, "operator_not_granted", err.Error())
	case errors.Is(err, accesserrors.ErrIdempotencyConflict),
		errors.Is(err, accesserrors.ErrConflict):
		writeAccessError(w, http.StatusConflict, "conflict", err.Error())
	default:
		writeAccessError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeAccessError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, accesshttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}
