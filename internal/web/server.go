// Package web exposes the engine over HTTP: lifecycle event endpoints for the
// external adapter, the position query interface, and the operator-only
// administrative surface.
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/gorilla/mux"

	"github.com/meridianfi/rlm/internal/engine"
	"github.com/meridianfi/rlm/internal/logger"
	"github.com/meridianfi/rlm/internal/metrics"
	"github.com/meridianfi/rlm/internal/types"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer handles HTTP requests for the rebalancing engine.
type WebServer struct {
	router        *mux.Router
	engine        *engine.Engine
	operatorToken string
	port          string
}

// NewWebServer creates a new web server instance.
func NewWebServer(port string, eng *engine.Engine, operatorToken string) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:        mux.NewRouter(),
		engine:        eng,
		operatorToken: operatorToken,
		port:          port,
	}

	server.setupRoutes()
	return server
}

// Router exposes the configured handler, mainly for tests.
func (ws *WebServer) Router() http.Handler {
	return ws.router
}

// setupRoutes configures all HTTP routes.
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	ws.router.Handle("/metrics", metrics.Handler()).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()

	// Position query interface.
	api.HandleFunc("/positions/{id}", ws.handleGetPosition).Methods("GET")
	api.HandleFunc("/positions/{id}/liquidity", ws.handleGetLiquidity).Methods("GET")
	api.HandleFunc("/positions/{id}/audit", ws.handleAudit).Methods("GET")
	api.HandleFunc("/stuck", ws.handleListStuck).Methods("GET")

	// Lifecycle events produced by the external adapter.
	events := api.PathPrefix("/events").Subrouter()
	events.HandleFunc("/pre-trade", ws.handlePreTrade).Methods("POST")
	events.HandleFunc("/post-trade", ws.handlePostTrade).Methods("POST")
	events.HandleFunc("/pre-withdraw", ws.handlePreWithdraw).Methods("POST")
	events.HandleFunc("/post-withdraw", ws.handlePostWithdraw).Methods("POST")
	events.HandleFunc("/contribute", ws.handleContribute).Methods("POST")

	// Administrative interface, operator token required.
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(ws.operatorMiddleware)
	admin.HandleFunc("/positions/{id}/pause", ws.handlePause).Methods("POST")
	admin.HandleFunc("/positions/{id}/resume", ws.handleResume).Methods("POST")
	admin.HandleFunc("/retry-stuck", ws.handleRetryStuck).Methods("POST")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
	ws.router.Use(metrics.Middleware)
}

// Start starts the web server.
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// --- Query handlers ---

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"component": map[string]interface{}{
			"name":    "rlm-range-liquidity-manager",
			"version": "1.0.0",
		},
	})
}

func (ws *WebServer) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	pos, err := ws.engine.GetPosition(r.Context(), id)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, pos)
}

func (ws *WebServer) handleGetLiquidity(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	amount0, amount1, state, err := ws.engine.GetAvailableLiquidity(r.Context(), id)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"position_id": id,
		"amount0":     amount0.String(),
		"amount1":     amount1.String(),
		"state":       state,
	})
}

func (ws *WebServer) handleAudit(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	report, err := ws.engine.ValidateAccounting(r.Context(), id)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, report)
}

func (ws *WebServer) handleListStuck(w http.ResponseWriter, r *http.Request) {
	ids, err := ws.engine.ListStuck(r.Context())
	if err != nil {
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to list stuck positions")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"stuck": ids,
		"count": len(ids),
	})
}

// --- Lifecycle event handlers ---

type preTradeRequest struct {
	PositionID string `json:"position_id"`
	Tick       int32  `json:"tick"`
}

func (ws *WebServer) handlePreTrade(w http.ResponseWriter, r *http.Request) {
	var req preTradeRequest
	if !ws.decodeBody(w, r, &req) {
		return
	}

	reserve0, reserve1, err := ws.engine.PrepareForTrade(r.Context(), req.PositionID, req.Tick)
	if err != nil && (errors.Is(err, types.ErrPositionNotFound)) {
		ws.writeEngineError(w, err)
		return
	}

	// A venue failure must not block the underlying trade: report the
	// reserves that are available along with the failure.
	resp := map[string]interface{}{
		"position_id": req.PositionID,
		"prepared":    err == nil,
		"reserve0":    reserve0.String(),
		"reserve1":    reserve1.String(),
	}
	if err != nil {
		resp["error"] = err.Error()
	}
	ws.writeJSONResponse(w, http.StatusOK, resp)
}

type postTradeRequest struct {
	PositionID string `json:"position_id"`
	OldTick    int32  `json:"old_tick"`
	NewTick    int32  `json:"new_tick"`
	Delta0     string `json:"delta0"`
	Delta1     string `json:"delta1"`
}

func (ws *WebServer) handlePostTrade(w http.ResponseWriter, r *http.Request) {
	var req postTradeRequest
	if !ws.decodeBody(w, r, &req) {
		return
	}
	delta0, ok0 := parseSignedAmount(req.Delta0)
	delta1, ok1 := parseSignedAmount(req.Delta1)
	if !ok0 || !ok1 {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid delta amounts")
		return
	}

	if err := ws.engine.SettleAfterTrade(r.Context(), req.PositionID, req.OldTick, req.NewTick, delta0, delta1); err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"position_id": req.PositionID, "settled": true})
}

type preWithdrawRequest struct {
	PositionID string `json:"position_id"`
}

func (ws *WebServer) handlePreWithdraw(w http.ResponseWriter, r *http.Request) {
	var req preWithdrawRequest
	if !ws.decodeBody(w, r, &req) {
		return
	}
	if err := ws.engine.PrepareWithdrawal(r.Context(), req.PositionID); err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"position_id": req.PositionID, "prepared": true})
}

type postWithdrawRequest struct {
	PositionID string `json:"position_id"`
	Remaining0 string `json:"remaining0"`
	Remaining1 string `json:"remaining1"`
	Tick       int32  `json:"tick"`
}

func (ws *WebServer) handlePostWithdraw(w http.ResponseWriter, r *http.Request) {
	var req postWithdrawRequest
	if !ws.decodeBody(w, r, &req) {
		return
	}
	remaining0, ok0 := sdkmath.NewIntFromString(req.Remaining0)
	remaining1, ok1 := sdkmath.NewIntFromString(req.Remaining1)
	if !ok0 || !ok1 {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid remaining amounts")
		return
	}

	if err := ws.engine.SettleWithdrawal(r.Context(), req.PositionID, remaining0, remaining1, req.Tick); err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"position_id": req.PositionID, "settled": true})
}

type contributeRequest struct {
	PoolID         uint64 `json:"pool_id"`
	TickLower      int32  `json:"tick_lower"`
	TickUpper      int32  `json:"tick_upper"`
	Owner          string `json:"owner"`
	Denom0         string `json:"denom0"`
	Denom1         string `json:"denom1"`
	Amount0        string `json:"amount0"`
	Amount1        string `json:"amount1"`
	ReservePercent int64  `json:"reserve_percent,omitempty"`
	Tick           int32  `json:"tick"`
}

func (ws *WebServer) handleContribute(w http.ResponseWriter, r *http.Request) {
	var req contributeRequest
	if !ws.decodeBody(w, r, &req) {
		return
	}
	amount0, ok0 := sdkmath.NewIntFromString(req.Amount0)
	amount1, ok1 := sdkmath.NewIntFromString(req.Amount1)
	if !ok0 || !ok1 {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid contribution amounts")
		return
	}

	pos, err := ws.engine.RegisterContribution(r.Context(), engine.Contribution{
		Pool:           types.PoolID(req.PoolID),
		TickLower:      req.TickLower,
		TickUpper:      req.TickUpper,
		Owner:          req.Owner,
		Denom0:         req.Denom0,
		Denom1:         req.Denom1,
		Amount0:        amount0,
		Amount1:        amount1,
		ReservePercent: req.ReservePercent,
	}, req.Tick)
	if err != nil && pos == nil {
		ws.writeEngineError(w, err)
		return
	}

	resp := map[string]interface{}{"position": pos}
	status := http.StatusOK
	if err != nil {
		// Contribution recorded but the venue deposit leg failed.
		resp["error"] = err.Error()
		status = http.StatusAccepted
	}
	ws.writeJSONResponse(w, status, resp)
}

// --- Admin handlers ---

func (ws *WebServer) handlePause(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := ws.engine.Pause(r.Context(), id); err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"position_id": id, "state": types.StateStuck})
}

func (ws *WebServer) handleResume(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := ws.engine.Resume(r.Context(), id); err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"position_id": id, "state": types.StateInRange})
}

func (ws *WebServer) handleRetryStuck(w http.ResponseWriter, r *http.Request) {
	recovered, dropped, err := ws.engine.RetryStuckPositions(r.Context())
	if err != nil {
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Recovery sweep failed: "+err.Error())
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"recovered": recovered,
		"dropped":   dropped,
	})
}

// --- Helpers and middleware ---

func (ws *WebServer) decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// parseSignedAmount accepts negative values, unlike contribution amounts.
func parseSignedAmount(s string) (sdkmath.Int, bool) {
	return sdkmath.NewIntFromString(s)
}

func (ws *WebServer) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrPositionNotFound):
		ws.writeErrorResponse(w, http.StatusNotFound, "Position not found")
	case errors.Is(err, types.ErrInvalidAmount),
		errors.Is(err, types.ErrInvalidReservePercent),
		errors.Is(err, types.ErrInvalidTickRange):
		ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrVenueDepositFailed),
		errors.Is(err, types.ErrVenueWithdrawFailed):
		ws.writeErrorResponse(w, http.StatusBadGateway, err.Error())
	default:
		webLogger.Error().Err(err).Msg("Unhandled engine error")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Internal error")
	}
}

func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	ws.writeJSONResponse(w, statusCode, map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}

// operatorMiddleware gates the administrative endpoints behind the operator token.
func (ws *WebServer) operatorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ws.operatorToken == "" || r.Header.Get("X-Operator-Token") != ws.operatorToken {
			ws.writeErrorResponse(w, http.StatusUnauthorized, types.ErrUnauthorized.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers.
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Operator-Token")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests.
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code.
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
