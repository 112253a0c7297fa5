// Package rpc exposes the ledger's read surface over HTTP. Mutating
// operations are deliberately absent: submission transports live outside the
// ledger.
package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stakeledger/staking"
)

// Server serves read-only staking queries.
type Server struct {
	engine *staking.Engine
	log    *slog.Logger
	router chi.Router
}

// NewServer builds the HTTP handler around the engine.
func NewServer(engine *staking.Engine, log *slog.Logger) *Server {
	s := &Server{engine: engine, log: log}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1/staking", func(r chi.Router) {
		r.Get("/total", s.handleTotal)
		r.Get("/params", s.handleParams)
		r.Get("/tiers", s.handleTiers)
		r.Get("/positions/{account}", s.handlePositions)
		r.Get("/positions/{account}/{id}", s.handlePosition)
		r.Get("/positions/{account}/{id}/reward", s.handlePendingReward)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type positionPayload struct {
	Account       string `json:"account"`
	ID            uint64 `json:"id"`
	Amount        string `json:"amount"`
	OpenedAt      uint64 `json:"openedAt"`
	LastSettledAt uint64 `json:"lastSettledAt"`
	LockPeriod    uint64 `json:"lockPeriod"`
	UnlocksAt     uint64 `json:"unlocksAt"`
	Tier          string `json:"tier"`
}

func newPositionPayload(p *staking.Position) positionPayload {
	return positionPayload{
		Account:       "0x" + hex.EncodeToString(p.Account[:]),
		ID:            p.ID,
		Amount:        p.Amount.String(),
		OpenedAt:      p.OpenedAt,
		LastSettledAt: p.LastSettledAt,
		LockPeriod:    p.LockPeriod,
		UnlocksAt:     p.UnlocksAt(),
		Tier:          p.Tier.String(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTotal(w http.ResponseWriter, r *http.Request) {
	total, err := s.engine.TotalStaked()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	paused, err := s.engine.Paused()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"totalStaked": total.String(),
		"paused":      paused,
	})
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	params := s.engine.Policy()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"rewardRate":        params.RewardRate.String(),
		"minimumStake":      params.MinimumStake.String(),
		"defaultLockPeriod": params.DefaultLockPeriod,
		"emergencyFeeRate":  params.EmergencyFeeRate.String(),
	})
}

func (s *Server) handleTiers(w http.ResponseWriter, r *http.Request) {
	table := s.engine.Multipliers()
	s.writeJSON(w, http.StatusOK, map[string]string{
		"basic":  table.Multiplier(staking.TierBasic).String(),
		"silver": table.Multiplier(staking.TierSilver).String(),
		"gold":   table.Multiplier(staking.TierGold).String(),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountParam(w, r)
	if !ok {
		return
	}
	positions, err := s.engine.Positions(account)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	payload := make([]positionPayload, 0, len(positions))
	for _, position := range positions {
		payload = append(payload, newPositionPayload(position))
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	account, id, ok := s.positionParams(w, r)
	if !ok {
		return
	}
	position, err := s.engine.Position(account, id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if position == nil {
		s.writeError(w, http.StatusNotFound, staking.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, newPositionPayload(position))
}

func (s *Server) handlePendingReward(w http.ResponseWriter, r *http.Request) {
	account, id, ok := s.positionParams(w, r)
	if !ok {
		return
	}
	at := uint64(time.Now().UTC().Unix())
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid at timestamp: %w", err))
			return
		}
		at = parsed
	}
	reward, err := s.engine.PendingRewardAt(account, id, at)
	if err != nil {
		status := http.StatusInternalServerError
		if err == staking.ErrNotFound {
			status = http.StatusNotFound
		}
		s.writeError(w, status, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"pendingReward": reward.String(),
		"at":            at,
	})
}

func (s *Server) accountParam(w http.ResponseWriter, r *http.Request) ([20]byte, bool) {
	account, err := parseAddress(chi.URLParam(r, "account"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return account, false
	}
	return account, true
}

func (s *Server) positionParams(w http.ResponseWriter, r *http.Request) ([20]byte, uint64, bool) {
	account, ok := s.accountParam(w, r)
	if !ok {
		return account, 0, false
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid position id: %w", err))
		return account, 0, false
	}
	return account, id, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && s.log != nil {
		s.log.Error("write response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		trimmed = trimmed[2:]
	}
	if len(trimmed) != 40 {
		return addr, fmt.Errorf("account must be 20 bytes (got %d hex chars)", len(trimmed))
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("decode account: %w", err)
	}
	copy(addr[:], decoded)
	return addr, nil
}
