package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	custodyerrors "agora/contexts/asset-custody/share-custody-service/domain/errors"
	custodyhttp "agora/contexts/asset-custody/share-custody-service/transport/http"
)

func (s *Server) handleLockTokens(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeCustodyError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	var req custodyhttp.LockTokensRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCustodyError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.custody.Handler.LockTokensHandler(
		r.Context(),
		userID,
		r.Header.Get("Idempotency-Key"),
		req,
	)
	if err != nil {
		writeCustodyDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUnlockTokens(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeCustodyError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	var req custodyhttp.UnlockTokensRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCustodyError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.custody.Handler.UnlockTokensHandler(
		r.Context(),
		userID,
		r.Header.Get("Idempotency-Key"),
		req,
	)
	if err != nil {
		writeCustodyDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegisterFraction(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeCustodyError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	var req custodyhttp.RegisterFractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCustodyError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.custody.Handler.RegisterFractionHandler(
		r.Context(),
		userID,
		r.Header.Get("Idempotency-Key"),
		req,
	)
	if err != nil {
		writeCustodyDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListLocks(w http.ResponseWriter, r *http.Request) {
	resp, err := s.custody.Handler.ListLocksHandler(r.Context(), r.PathValue("holder_id"))
	if err != nil {
		writeCustodyDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetHolding(w http.ResponseWriter, r *http.Request) {
	resp, err := s.custody.Handler.GetHoldingHandler(
		r.Context(),
		r.PathValue("holder_id"),
		r.PathValue("share_class_id"),
	)
	if err != nil {
		writeCustodyDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetFraction(w http.ResponseWriter, r *http.Request) {
	resp, err := s.custody.Handler.GetFractionHandler(r.Context(), r.PathValue("fraction_id"))
	if err != nil {
		writeCustodyDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListFractions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitRaw := r.URL.Query().Get("limit"); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil {
			writeCustodyError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return
		}
		limit = parsed
	}
	resp, err := s.custody.Handler.ListFractionsHandler(r.Context(), limit)
	if err != nil {
		writeCustodyDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeCustodyDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, custodyerrors.ErrLockNotFound):
		writeCustodyError(w, http.StatusNotFound, "lock_not_found", err.Error())
	case errors.Is(err, custodyerrors.ErrFractionNotFound):
		writeCustodyError(w, http.StatusNotFound, "fraction_not_found", err.Error())
	case errors.Is(err, custodyerrors.ErrInvalidHolder),
		errors.Is(err, custodyerrors.ErrInvalidShareClass),
		errors.Is(err, custodyerrors.ErrInvalidAmount),
		errors.Is(err, custodyerrors.ErrInvalidUnlockTime),
		errors.Is(err, custodyerrors.ErrInvalidFraction),
		errors.Is(err, custodyerrors.ErrInvalidAsset),
		errors.Is(err, custodyerrors.ErrInvalidOwner),
		errors.Is(err, custodyerrors.ErrInvalidSupply):
		writeCustodyError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, custodyerrors.ErrIdempotencyKeyRequired):
		writeCustodyError(w, http.StatusBadRequest, "idempotency_key_required", err.Error())
	case errors.Is(err, custodyerrors.ErrNotAuthorized):
		writeCustodyError(w, http.StatusForbidden, "not_authorized", err.Error())
	case errors.Is(err, custodyerrors.ErrInsufficientBalance):
		writeCustodyError(w, http.StatusConflict, "insufficient_balance", err.Error())
	case errors.Is(err, custodyerrors.ErrInsufficientLocked):
		writeCustodyError(w, http.StatusConflict, "insufficient_locked", err.Error())
	case errors.Is(err, custodyerrors.ErrUnlockTooEarly):
		writeCustodyError(w, http.StatusConflict, "unlock_too_early", err.Error())
	case errors.Is(err, custodyerrors.ErrFractionExists):
		writeCustodyError(w, http.StatusConflict, "fraction_exists", err.Error())
	case errors.Is(err, custodyerrors.ErrIdempotencyConflict),
		errors.Is(err, custodyerrors.ErrConflict):
		writeCustodyError(w, http.StatusConflict, "conflict", err.Error())
	default:
		writeCustodyError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeCustodyError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, custodyhttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}
