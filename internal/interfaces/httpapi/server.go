package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"colonyledger/internal/domain"
	"colonyledger/internal/ledger"
	"colonyledger/internal/query"
	"colonyledger/internal/reconcile"
	"colonyledger/internal/streaming"

	"github.com/ethereum/go-ethereum/common"
)

const maxCommandBytes = 1 << 20

type Facade interface {
	Transfers(ctx context.Context, colony common.Address) ([]domain.Transfer, error)
	UnclaimedTransfers(ctx context.Context, colony common.Address) ([]domain.Transfer, error)
	Events(ctx context.Context, colony common.Address) ([]domain.NetworkEvent, error)
	Transaction(ctx context.Context, hash common.Hash, colony common.Address) (domain.TransactionView, error)
	LocalTransactions(filter ledger.ListFilter) []domain.TransactionRecord
	GasPrices() domain.GasPrices
	ColonyAddress(ctx context.Context, name string) (query.Resolution, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, cmd ledger.Command) (ledger.Effect, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

type Server struct {
	facade     Facade
	dispatcher Dispatcher
	checks     map[string]Pinger
	metrics    *Metrics
	buildInfo  BuildInfo
}

// NewServer wires the read surface over facade and the command endpoint over dispatcher.
// checks are pinged by /readyz.
func NewServer(facade Facade, dispatcher Dispatcher, checks map[string]Pinger, metrics *Metrics, buildInfo BuildInfo) (*Server, error) {
	if facade == nil || dispatcher == nil {
		return nil, errors.New("http server dependencies must not be nil")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{facade: facade, dispatcher: dispatcher, checks: checks, metrics: metrics, buildInfo: buildInfo}, nil
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern string, handler http.HandlerFunc) {
		mux.HandleFunc(pattern, s.metrics.instrument(pattern, handler))
	}
	route("GET /healthz", s.handleHealth)
	route("GET /readyz", s.handleReady)
	route("GET /version", s.handleVersion)
	mux.Handle("GET /metrics", s.metrics.Handler())
	route("GET /colonies/{address}/transfers", s.handleTransfers)
	route("GET /colonies/{address}/unclaimed-transfers", s.handleUnclaimedTransfers)
	route("GET /colonies/{address}/events", s.handleEvents)
	route("GET /colonies/{address}/transactions/{hash}", s.handleTransaction)
	route("GET /names/{name}", s.handleName)
	route("GET /ledger/transactions", s.handleLocalTransactions)
	route("GET /ledger/gas-prices", s.handleGasPrices)
	route("POST /ledger/commands", s.handleCommand)
	return mux
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, name+" not ready")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

// viewResponse wraps reconciled views. Partial is set when some inputs failed and Data holds
// only what succeeded.
type viewResponse struct {
	Data    any    `json:"data"`
	Partial bool   `json:"partial"`
	Failed  int    `json:"failed,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	colony, ok := colonyParam(w, r)
	if !ok {
		return
	}
	start := time.Now()
	transfers, err := s.facade.Transfers(r.Context(), colony)
	s.respondView(w, query.ViewTransfers, start, transfers, err)
}

func (s *Server) handleUnclaimedTransfers(w http.ResponseWriter, r *http.Request) {
	colony, ok := colonyParam(w, r)
	if !ok {
		return
	}
	start := time.Now()
	transfers, err := s.facade.UnclaimedTransfers(r.Context(), colony)
	s.respondView(w, query.ViewUnclaimedTransfers, start, transfers, err)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	colony, ok := colonyParam(w, r)
	if !ok {
		return
	}
	start := time.Now()
	events, err := s.facade.Events(r.Context(), colony)
	s.respondView(w, query.ViewEvents, start, events, err)
}

func (s *Server) respondView(w http.ResponseWriter, view string, start time.Time, data any, err error) {
	var partial *reconcile.PartialError
	switch {
	case err == nil:
		s.metrics.ObserveReconcile(view, "ok", time.Since(start))
		respondJSON(w, http.StatusOK, viewResponse{Data: data})
	case errors.As(err, &partial):
		s.metrics.ObserveReconcile(view, "partial", time.Since(start))
		slog.Warn("partial colony view", "view", view, "failed", partial.Failed, "err", partial.Err)
		respondJSON(w, http.StatusOK, viewResponse{Data: data, Partial: true, Failed: partial.Failed, Error: partial.Error()})
	default:
		s.metrics.ObserveReconcile(view, "error", time.Since(start))
		slog.Error("colony view failed", "view", view, "err", err)
		respondError(w, http.StatusBadGateway, "chain query failed")
	}
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	colony, ok := colonyParam(w, r)
	if !ok {
		return
	}
	raw := r.PathValue("hash")
	hashBytes := common.FromHex(raw)
	if len(hashBytes) != common.HashLength {
		respondError(w, http.StatusBadRequest, "invalid transaction hash")
		return
	}
	view, err := s.facade.Transaction(r.Context(), common.BytesToHash(hashBytes), colony)
	if errors.Is(err, reconcile.ErrTransactionNotFound) {
		respondError(w, http.StatusNotFound, "transaction not found")
		return
	}
	if err != nil {
		slog.Error("transaction lookup failed", "hash", raw, "err", err)
		respondError(w, http.StatusBadGateway, "chain query failed")
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleName(w http.ResponseWriter, r *http.Request) {
	resolution, err := s.facade.ColonyAddress(r.Context(), r.PathValue("name"))
	if err != nil {
		slog.Error("name resolution failed", "name", r.PathValue("name"), "err", err)
		respondError(w, http.StatusBadGateway, "name resolution failed")
		return
	}
	respondJSON(w, http.StatusOK, resolution)
}

func (s *Server) handleLocalTransactions(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	filter := ledger.ListFilter{
		Identifier: values.Get("identifier"),
		Hash:       values.Get("hash"),
		GroupID:    values.Get("group_id"),
	}
	for _, raw := range values["status"] {
		for _, item := range strings.Split(raw, ",") {
			status := domain.Status(strings.TrimSpace(item))
			if !status.Valid() {
				respondError(w, http.StatusBadRequest, "invalid status")
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	records := s.facade.LocalTransactions(filter)
	if records == nil {
		records = []domain.TransactionRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleGasPrices(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.facade.GasPrices())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "read body failed")
		return
	}
	cmd, _, err := streaming.DecodeCommand(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	effect, err := s.dispatcher.Dispatch(r.Context(), cmd)
	if err != nil {
		s.metrics.ObserveCommand(string(cmd.Type()), "rejected")
		respondError(w, commandStatus(err), err.Error())
		return
	}
	s.metrics.ObserveCommand(string(cmd.Type()), "applied")
	respondJSON(w, http.StatusOK, streaming.NewRecordEvent(effect, "", time.Now()))
}

func commandStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrDuplicateTransaction), errors.Is(err, ledger.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrMissingID), errors.Is(err, ledger.ErrUnknownCommand):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrSessionClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func colonyParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := r.PathValue("address")
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid colony address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
