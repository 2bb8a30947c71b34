package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/tournament-engine/internal/domain"
	"github.com/tournament-engine/internal/match"
	"github.com/tournament-engine/internal/postgres"
	"github.com/tournament-engine/internal/settlement"
	"github.com/tournament-engine/internal/websocket"
)

// Handler provides HTTP handlers for the tournament API
type Handler struct {
	repo       *postgres.Repository
	matchmaker *match.Matchmaker
	settlement *settlement.Engine
	hub        *websocket.Hub
	logger     *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	repo *postgres.Repository,
	matchmaker *match.Matchmaker,
	engine *settlement.Engine,
	hub *websocket.Hub,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		repo:       repo,
		matchmaker: matchmaker,
		settlement: engine,
		hub:        hub,
		logger:     logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Game definitions
		r.Route("/games", func(r chi.Router) {
			r.Post("/", h.CreateGame)
			r.Get("/", h.ListGames)

			r.Route("/{gameID}", func(r chi.Router) {
				r.Get("/", h.GetGame)
				r.Get("/sessions", h.ListOpenSessions)
				r.Post("/sessions", h.JoinOrCreateSession)
			})
		})

		// Sessions
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Get("/events", h.GetSessionEvents)
			r.Post("/settle", h.SettleSession)
		})

		// Wallet
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Get("/balance/entries", h.GetBalanceEntries)
			r.Post("/deposit", h.Deposit)
		})

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeDomainError maps a domain error to its HTTP status. Errors that
// are neither client faults nor conflicts are logged and masked as 500.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case domain.IsConflictError(err):
		h.writeError(w, http.StatusConflict, err)
	case domain.IsInsufficientBalance(err):
		h.writeError(w, http.StatusPaymentRequired, err)
	case err == domain.ErrInvalidRequest, err == domain.ErrGameInactive:
		h.writeError(w, http.StatusBadRequest, err)
	case err == domain.ErrSessionNotActive, err == domain.ErrAlreadyJoined:
		h.writeError(w, http.StatusConflict, err)
	case err == domain.ErrSettlementMismatch:
		h.writeError(w, http.StatusUnprocessableEntity, err)
	default:
		h.logger.Error(logMsg, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// CreateGame registers a new game definition
func (h *Handler) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	def := domain.GameDefinition{
		ID:               uuid.New().String(),
		GameType:         req.GameType,
		Name:             req.Name,
		EntryFee:         req.EntryFee,
		MinPlayers:       req.MinPlayers,
		MaxPlayers:       req.MaxPlayers,
		WinnerPercentage: req.WinnerPercentage,
		Active:           true,
		CreatedAt:        time.Now().UTC(),
	}
	if err := h.repo.CreateGameDefinition(r.Context(), def); err != nil {
		h.writeDomainError(w, err, "failed to create game definition")
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    def,
	})
}

// ListGames returns game definitions, active ones only unless ?all=true
func (h *Handler) ListGames(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"

	defs, err := h.repo.ListGameDefinitions(r.Context(), activeOnly)
	if err != nil {
		h.writeDomainError(w, err, "failed to list game definitions")
		return
	}

	h.writeSuccess(w, defs)
}

// GetGame returns a game definition by ID
func (h *Handler) GetGame(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	if gameID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	def, err := h.repo.GetGameDefinition(r.Context(), gameID)
	if err != nil {
		h.writeDomainError(w, err, "failed to get game definition")
		return
	}

	h.writeSuccess(w, def)
}

// ListOpenSessions returns waiting sessions with free seats for a game
func (h *Handler) ListOpenSessions(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	if gameID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	sessions, err := h.matchmaker.ListOpenSessions(r.Context(), gameID)
	if err != nil {
		h.writeDomainError(w, err, "failed to list open sessions")
		return
	}

	h.writeSuccess(w, sessions)
}

// JoinOrCreateSession seats the caller into an open session for the
// game, creating one when none has a free seat
func (h *Handler) JoinOrCreateSession(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	if gameID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	var req domain.JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	handle, err := h.matchmaker.JoinOrCreate(r.Context(), gameID, req)
	if err != nil {
		h.writeDomainError(w, err, "failed to join session")
		return
	}

	status := http.StatusOK
	if handle.Created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, APIResponse{
		Success: true,
		Data:    handle,
	})
}

// GetSession returns a session with its participants
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	session, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		h.writeDomainError(w, err, "failed to get session")
		return
	}

	participants, err := h.repo.ListParticipants(r.Context(), sessionID)
	if err != nil {
		h.writeDomainError(w, err, "failed to list participants")
		return
	}

	h.writeSuccess(w, map[string]interface{}{
		"session":      session,
		"participants": participants,
	})
}

// GetSessionEvents returns the archived event log of a session, after
// an optional ?since= sequence number
func (h *Handler) GetSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	since := int64(0)
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		if s, err := strconv.ParseInt(sinceStr, 10, 64); err == nil && s >= 0 {
			since = s
		}
	}

	events, err := h.hub.Replay(r.Context(), sessionID, since)
	if err != nil {
		h.writeDomainError(w, err, "failed to replay session events")
		return
	}

	h.writeSuccess(w, events)
}

// SettleSession verifies a reported outcome and pays out the prize
func (h *Handler) SettleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	var req domain.SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if req.ReporterUserID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	session, err := h.settlement.Settle(r.Context(), sessionID, req)
	if err != nil {
		h.writeDomainError(w, err, "failed to settle session")
		return
	}

	h.writeSuccess(w, session)
}

// GetBalance returns a user's spendable balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	balance, err := h.repo.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err, "failed to get balance")
		return
	}

	h.writeSuccess(w, balance)
}

// GetBalanceEntries returns a user's recent wallet adjustments
func (h *Handler) GetBalanceEntries(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}

	entries, err := h.repo.ListBalanceEntries(r.Context(), userID, limit)
	if err != nil {
		h.writeDomainError(w, err, "failed to list balance entries")
		return
	}

	h.writeSuccess(w, entries)
}

// depositRequest funds a user's wallet
type depositRequest struct {
	Amount int64 `json:"amount"`
}

// Deposit credits a user's wallet
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if req.Amount <= 0 {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.repo.Credit(r.Context(), userID, req.Amount, domain.ReasonDeposit, ""); err != nil {
		h.writeDomainError(w, err, "failed to deposit")
		return
	}

	balance, err := h.repo.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err, "failed to get balance")
		return
	}

	h.writeSuccess(w, balance)
}
