package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	proposalengine "agora/contexts/governance/proposal-engine"
	governanceerrors "agora/contexts/governance/proposal-engine/domain/errors"
	governancehttp "agora/contexts/governance/proposal-engine/transport/http"
	"agora/internal/platform/metrics"

	httpSwagger "github.com/swaggo/http-swagger"
	_ "agora/internal/platform/httpserver/docs"

	operatorregistry "agora/contexts/access-control/operator-registry"
	sharecustody "agora/contexts/asset-custody/share-custody-service"
)

type Server struct {
	mux        *http.ServeMux
	logger     *slog.Logger
	addr       string
	governance proposalengine.Module
	custody    sharecustody.Module
	access     operatorregistry.Module
}

func New(
	governance proposalengine.Module,
	custody sharecustody.Module,
	access operatorregistry.Module,
	logger *slog.Logger,
	addr string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:        http.NewServeMux(),
		logger:     logger,
		addr:       addr,
		governance: governance,
		custody:    custody,
		access:     access,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler exposes the routed mux so tests can drive the server without a
// listening socket.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	s.mux.Handle("GET /metrics", metrics.Handler())

	s.handle("POST /api/governance/v1/proposals", s.handleCreateProposal)
	s.handle("GET /api/governance/v1/proposals", s.handleListProposals)
	s.handle("GET /api/governance/v1/proposals/count", s.handleCountProposals)
	s.handle("GET /api/governance/v1/proposals/{proposal_id}", s.handleGetProposal)
	s.handle("POST /api/governance/v1/proposals/{proposal_id}/open", s.handleOpenVoting)
	s.handle("POST /api/governance/v1/proposals/{proposal_id}/votes", s.handleCastVote)
	s.handle("POST /api/governance/v1/proposals/{proposal_id}/finalize", s.handleFinalizeProposal)
	s.handle("GET /api/governance/v1/proposals/{proposal_id}/votes", s.handleOptionTally)
	s.handle("GET /api/governance/v1/proposals/{proposal_id}/votes/{voter_id}", s.handleVoterRecord)
	s.handle("GET /api/governance/v1/proposals/{proposal_id}/results", s.handleResults)
	s.handle("GET /api/governance/v1/proposals/{proposal_id}/history", s.handleHistory)
	s.handle("GET /api/governance/v1/proposals/{proposal_id}/decision", s.handleDecision)
	s.handle("GET /api/governance/v1/fractions/{fraction_id}/proposal", s.handleFractionProposal)
	s.handle("GET /api/governance/v1/fractions/{fraction_id}/decision", s.handleFractionDecision)

	s.handle("POST /api/custody/v1/locks", s.handleLockTokens)
	s.handle("POST /api/custody/v1/locks/release", s.handleUnlockTokens)
	s.handle("GET /api/custody/v1/holders/{holder_id}/locks", s.handleListLocks)
	s.handle("GET /api/custody/v1/holders/{holder_id}/holdings/{share_class_id}", s.handleGetHolding)
	s.handle("POST /api/custody/v1/fractions", s.handleRegisterFraction)
	s.handle("GET /api/custody/v1/fractions", s.handleListFractions)
	s.handle("GET /api/custody/v1/fractions/{fraction_id}", s.handleGetFraction)

	s.handle("POST /api/access/v1/operators/grant", s.handleGrantOperator)
	s.handle("POST /api/access/v1/operators/revoke", s.handleRevokeOperator)
	s.handle("GET /api/access/v1/operators", s.handleListOperators)
	s.handle("GET /api/access/v1/operators/{operator_id}", s.handleGetOperator)
}

// handle registers the pattern with a request-counting wrapper.
func (s *Server) handle(pattern string, handlerFunc http.HandlerFunc) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handlerFunc(recorder, r)
		metrics.HTTPRequests.WithLabelValues(r.Method, pattern, statusClass(recorder.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func (s *Server) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeGovernanceError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	var req governancehttp.CreateProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGovernanceError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.governance.Handler.CreateProposalHandler(
		r.Context(),
		userID,
		r.Header.Get("Idempotency-Key"),
		req,
	)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOpenVoting(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeGovernanceError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}
	proposalID, ok := parseProposalID(w, r)
	if !ok {
		return
	}

	req := governancehttp.OpenVotingRequest{}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeGovernanceError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
			return
		}
	}

	resp, err := s.governance.Handler.OpenVotingHandler(
		r.Context(),
		proposalID,
		userID,
		r.Header.Get("Idempotency-Key"),
		req,
	)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeGovernanceError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}
	proposalID, ok := parseProposalID(w, r)
	if !ok {
		return
	}

	var req governancehttp.CastVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGovernanceError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.governance.Handler.CastVoteHandler(
		r.Context(),
		proposalID,
		userID,
		r.Header.Get("Idempotency-Key"),
		req,
	)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFinalizeProposal(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeGovernanceError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}
	proposalID, ok := parseProposalID(w, r)
	if !ok {
		return
	}

	resp, err := s.governance.Handler.FinalizeProposalHandler(
		r.Context(),
		proposalID,
		userID,
		r.Header.Get("Idempotency-Key"),
	)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := parseProposalID(w, r)
	if !ok {
		return
	}
	resp, err := s.governance.Handler.GetProposalHandler(r.Context(), proposalID)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := 0
	if limitRaw := query.Get("limit"); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil {
			writeGovernanceError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return
		}
		limit = parsed
	}
	resp, err := s.governance.Handler.ListProposalsHandler(r.Context(), query.Get("status"), limit)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCountProposals(w http.ResponseWriter, r *http.Request) {
	resp, err := s.governance.Handler.CountProposalsHandler(r.Context())
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOptionTally(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := parseProposalID(w, r)
	if !ok {
		return
	}
	resp, err := s.governance.Handler.OptionTallyHandler(r.Context(), proposalID, r.URL.Query().Get("option"))
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVoterRecord(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := parseProposalID(w, r)
	if !ok {
		return
	}
	resp, err := s.governance.Handler.VoterRecordHandler(r.Context(), proposalID, r.PathValue("voter_id"))
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := parseProposalID(w, r)
	if !ok {
		return
	}
	resp, err := s.governance.Handler.ResultsHandler(r.Context(), proposalID)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := parseProposalID(w, r)
	if !ok {
		return
	}
	resp, err := s.governance.Handler.HistoryHandler(r.Context(), proposalID)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := parseProposalID(w, r)
	if !ok {
		return
	}
	resp, err := s.governance.Handler.DecisionHandler(r.Context(), proposalID, r.URL.Query().Get("model"))
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFractionProposal(w http.ResponseWriter, r *http.Request) {
	resp, err := s.governance.Handler.FractionProposalHandler(r.Context(), r.PathValue("fraction_id"))
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFractionDecision(w http.ResponseWriter, r *http.Request) {
	resp, err := s.governance.Handler.FractionDecisionHandler(
		r.Context(),
		r.PathValue("fraction_id"),
		r.URL.Query().Get("model"),
	)
	if err != nil {
		writeGovernanceDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseProposalID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	proposalID, err := strconv.ParseUint(r.PathValue("proposal_id"), 10, 64)
	if err != nil {
		writeGovernanceError(w, http.StatusBadRequest, "invalid_proposal_id", "proposal_id must be a positive integer")
		return 0, false
	}
	return proposalID, true
}

func writeGovernanceDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, governanceerrors.ErrProposalNotFound):
		writeGovernanceError(w, http.StatusNotFound, "proposal_not_found", err.Error())
	case errors.Is(err, governanceerrors.ErrVoteNotFound):
		writeGovernanceError(w, http.StatusNotFound, "vote_not_found", err.Error())
	case errors.Is(err, governanceerrors.ErrFractionPollNotFound):
		writeGovernanceError(w, http.StatusNotFound, "fraction_poll_not_found", err.Error())
	case errors.Is(err, governanceerrors.ErrInvalidTitle),
		errors.Is(err, governanceerrors.ErrInvalidCreator),
		errors.Is(err, governanceerrors.ErrInvalidVoter),
		errors.Is(err, governanceerrors.ErrInvalidDeadline),
		errors.Is(err, governanceerrors.ErrInvalidWindow),
		errors.Is(err, governanceerrors.ErrInvalidBaseline),
		errors.Is(err, governanceerrors.ErrUnsupportedWeightMode):
		writeGovernanceError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, governanceerrors.ErrIdempotencyKeyRequired):
		writeGovernanceError(w, http.StatusBadRequest, "idempotency_key_required", err.Error())
	case errors.Is(err, governanceerrors.ErrNoVotingWeight):
		writeGovernanceError(w, http.StatusForbidden, "no_voting_weight", err.Error())
	case errors.Is(err, governanceerrors.ErrNotAuthorized):
		writeGovernanceError(w, http.StatusForbidden, "not_authorized", err.Error())
	case errors.Is(err, governanceerrors.ErrVotingNotStarted):
		writeGovernanceError(w, http.StatusConflict, "voting_not_started", err.Error())
	case errors.Is(err, governanceerrors.ErrVotingClosed):
		writeGovernanceError(w, http.StatusConflict, "voting_closed", err.Error())
	case errors.Is(err, governanceerrors.ErrAlreadyVoted):
		writeGovernanceError(w, http.StatusConflict, "already_voted", err.Error())
	case errors.Is(err, governanceerrors.ErrTooEarly):
		writeGovernanceError(w, http.StatusConflict, "too_early", err.Error())
	case errors.Is(err, governanceerrors.ErrAlreadyFinalized):
		writeGovernanceError(w, http.StatusConflict, "already_finalized", err.Error())
	case errors.Is(err, governanceerrors.ErrFractionAlreadyLinked):
		writeGovernanceError(w, http.StatusConflict, "fraction_already_linked", err.Error())
	case errors.Is(err, governanceerrors.ErrIdempotencyConflict),
		errors.Is(err, governanceerrors.ErrConflict):
		writeGovernanceError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, governanceerrors.ErrInvalidOption):
		writeGovernanceError(w, http.StatusUnprocessableEntity, "invalid_option", err.Error())
	case errors.Is(err, governanceerrors.ErrUnsupportedModel):
		writeGovernanceError(w, http.StatusUnprocessableEntity, "unsupported_model", err.Error())
	default:
		writeGovernanceError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeGovernanceError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, governancehttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
