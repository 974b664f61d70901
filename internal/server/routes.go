package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"Orion/internal/protocol"
	"Orion/internal/query"

	"github.com/ethereum/go-ethereum/common"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

var errBadRequest = errors.New("bad request")

// handler returns the response body or an error mapped by statusOf.
type handler func(r *http.Request, params map[string]string) (any, error)

type route struct {
	method  string
	pattern string
	name    string
	h       handler
}

func (s *GRPCServer) routes() []route {
	return []route{
		{"GET", "/v1/vaults", "ListVaults", s.listVaults},
		{"GET", "/v1/vaults/{vault}", "GetVault", s.getVault},
		{"GET", "/v1/vaults/{vault}/history", "GetVaultHistory", s.getVaultHistory},
		{"GET", "/v1/balances/{token}/{holder}", "GetBalance", s.getBalance},
		{"GET", "/v1/holders/{holder}/journals", "ListJournals", s.listJournals},
		{"GET", "/v1/settlements", "ListSettlements", s.listSettlements},
		{"GET", "/v1/status", "GetSystemStatus", s.getStatus},

		{"GET", "/v1/admin/integrity", "VerifyIntegrity", s.verifyIntegrity},
		{"GET", "/v1/admin/events/head", "GetEventLogInfo", s.eventLogInfo},
		{"POST", "/v1/admin/vaults", "CreateVault", s.createVault},
		{"POST", "/v1/admin/tokens", "ListToken", s.listToken},
		{"POST", "/v1/admin/credits", "CreditFunds", s.creditFunds},
		{"POST", "/v1/admin/projections/balances/rebuild", "RebuildBalances", s.rebuildBalances},
	}
}

func (s *GRPCServer) registerRoutes(mux *runtime.ServeMux) error {
	for _, rt := range s.routes() {
		if err := mux.HandlePath(rt.method, rt.pattern, s.instrument(rt.name, rt.h)); err != nil {
			return fmt.Errorf("%s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return nil
}

func (s *GRPCServer) instrument(name string, h handler) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		body, err := h(r, params)

		code := http.StatusOK
		if err != nil {
			code = statusOf(err)
			body = map[string]string{"error": err.Error()}
			if code >= http.StatusInternalServerError {
				s.logger.Error().Err(err).Str("method", name).Msg("request failed")
			}
		}

		if m := s.deps.Metrics; m != nil {
			m.QueryRequests.WithLabelValues(name).Inc()
			m.QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
			if err != nil {
				m.QueryErrors.WithLabelValues(name, strconv.Itoa(code)).Inc()
			}
		}
		writeJSON(w, code, body)
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, query.ErrNotFound), errors.Is(err, protocol.ErrUnknownVault):
		return http.StatusNotFound
	case errors.Is(err, protocol.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, protocol.ErrZeroAddress),
		errors.Is(err, protocol.ErrAmountMustBeGreaterThanZero),
		errors.Is(err, protocol.ErrTokenNotWhitelisted):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// ============================================================================
// Read routes
// ============================================================================

func (s *GRPCServer) listVaults(r *http.Request, _ map[string]string) (any, error) {
	vaults, err := s.deps.Queries.ListVaults(r.Context())
	if err != nil {
		return nil, err
	}
	return map[string]any{"vaults": nonNil(vaults)}, nil
}

func (s *GRPCServer) getVault(r *http.Request, params map[string]string) (any, error) {
	addr, err := addressParam(params, "vault")
	if err != nil {
		return nil, err
	}
	return s.deps.Queries.GetVault(r.Context(), addr)
}

func (s *GRPCServer) getVaultHistory(r *http.Request, params map[string]string) (any, error) {
	addr, err := addressParam(params, "vault")
	if err != nil {
		return nil, err
	}
	limit, before, err := pageParams(r)
	if err != nil {
		return nil, err
	}
	history, err := s.deps.Queries.GetVaultHistory(r.Context(), addr, limit, before)
	if err != nil {
		return nil, err
	}
	return map[string]any{"history": nonNil(history)}, nil
}

func (s *GRPCServer) getBalance(r *http.Request, params map[string]string) (any, error) {
	token, err := addressParam(params, "token")
	if err != nil {
		return nil, err
	}
	holder, err := addressParam(params, "holder")
	if err != nil {
		return nil, err
	}
	return s.deps.Queries.GetBalance(r.Context(), token, holder)
}

func (s *GRPCServer) listJournals(r *http.Request, params map[string]string) (any, error) {
	holder, err := addressParam(params, "holder")
	if err != nil {
		return nil, err
	}
	limit, before, err := pageParams(r)
	if err != nil {
		return nil, err
	}
	entries, err := s.deps.Queries.GetJournalHistory(r.Context(), holder, limit, before)
	if err != nil {
		return nil, err
	}
	return map[string]any{"journals": nonNil(entries)}, nil
}

func (s *GRPCServer) listSettlements(r *http.Request, _ map[string]string) (any, error) {
	limit, before, err := pageParams(r)
	if err != nil {
		return nil, err
	}
	var target *string
	if t := r.URL.Query().Get("target"); t != "" {
		if t != "iso" && t != "lo" {
			return nil, fmt.Errorf("%w: target must be iso or lo", errBadRequest)
		}
		target = &t
	}
	out, err := s.deps.Queries.GetSettlements(r.Context(), target, limit, before)
	if err != nil {
		return nil, err
	}
	return map[string]any{"settlements": nonNil(out)}, nil
}

// StatusResponse is the live orchestrator position, read from the core
// rather than the projections.
type StatusResponse struct {
	Sequence  int64     `json:"sequence"`
	StateHash string    `json:"state_hash"`
	ISO       ISOStatus `json:"iso"`
	LO        LOStatus  `json:"lo"`
}

type ISOStatus struct {
	Phase          string    `json:"phase"`
	Epoch          uint64    `json:"epoch"`
	NextUpdateTime time.Time `json:"next_update_time"`
	Buffer         string    `json:"buffer"`
	FeeRate        string    `json:"fee_rate"`
}

type LOStatus struct {
	Phase             string `json:"phase"`
	Epoch             uint64 `json:"epoch"`
	PendingSettlement bool   `json:"pending_settlement"`
}

func (s *GRPCServer) getStatus(_ *http.Request, _ map[string]string) (any, error) {
	st := s.deps.Core.Status()
	hash := s.deps.Core.GetStateHash()
	buffer := "0"
	if st.Buffer != nil {
		buffer = st.Buffer.String()
	}
	return StatusResponse{
		Sequence:  s.deps.Core.GetSequence(),
		StateHash: hex.EncodeToString(hash[:]),
		ISO: ISOStatus{
			Phase:          st.ISOPhase.String(),
			Epoch:          st.ISOEpoch,
			NextUpdateTime: st.NextUpdateTime,
			Buffer:         buffer,
			FeeRate:        st.FeeRate.String(),
		},
		LO: LOStatus{
			Phase:             st.LOPhase.String(),
			Epoch:             st.LOEpoch,
			PendingSettlement: st.Pending,
		},
	}, nil
}

// ============================================================================
// Admin routes
// ============================================================================

func (s *GRPCServer) verifyIntegrity(r *http.Request, _ map[string]string) (any, error) {
	return s.deps.Queries.VerifyIntegrity(r.Context())
}

func (s *GRPCServer) eventLogInfo(r *http.Request, _ map[string]string) (any, error) {
	latest, err := s.deps.EventLog.GetLatestSequence(r.Context())
	if err != nil {
		return nil, fmt.Errorf("get latest sequence: %w", err)
	}
	return map[string]int64{
		"last_sequence": latest,
		"core_sequence": s.deps.Core.GetSequence(),
	}, nil
}

type commandResponse struct {
	CommandID string `json:"command_id"`
	Sequence  int64  `json:"sequence"`
}

func (s *GRPCServer) accepted(id fmt.Stringer) commandResponse {
	return commandResponse{CommandID: id.String(), Sequence: s.deps.Core.GetSequence()}
}

func (s *GRPCServer) createVault(r *http.Request, _ map[string]string) (any, error) {
	var req struct {
		Curator string `json:"curator"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	curator, err := parseAddress("curator", req.Curator)
	if err != nil {
		return nil, err
	}
	id, err := s.deps.Admin.CreateVault(r.Context(), curator)
	if err != nil {
		return nil, err
	}
	return s.accepted(id), nil
}

func (s *GRPCServer) listToken(r *http.Request, _ map[string]string) (any, error) {
	var req struct {
		Token    string `json:"token"`
		Decimals *uint8 `json:"decimals"`
		Delist   bool   `json:"delist"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		return nil, err
	}
	var decimals uint8
	if !req.Delist {
		if req.Decimals == nil {
			return nil, fmt.Errorf("%w: decimals is required", errBadRequest)
		}
		decimals = *req.Decimals
	}
	id, err := s.deps.Admin.ListToken(r.Context(), token, decimals, req.Delist)
	if err != nil {
		return nil, err
	}
	return s.accepted(id), nil
}

func (s *GRPCServer) creditFunds(r *http.Request, _ map[string]string) (any, error) {
	var req struct {
		Token  string `json:"token"`
		Holder string `json:"holder"`
		Amount string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		return nil, err
	}
	holder, err := parseAddress("holder", req.Holder)
	if err != nil {
		return nil, err
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("%w: invalid amount %q", errBadRequest, req.Amount)
	}
	id, err := s.deps.Admin.CreditFunds(r.Context(), token, holder, amount)
	if err != nil {
		return nil, err
	}
	return s.accepted(id), nil
}

func (s *GRPCServer) rebuildBalances(r *http.Request, _ map[string]string) (any, error) {
	if s.deps.RebuildBalances == nil {
		return nil, errors.New("rebuild not configured")
	}
	if err := s.deps.RebuildBalances(r.Context()); err != nil {
		return nil, fmt.Errorf("rebuild failed: %w", err)
	}
	return map[string]bool{"rebuilt": true}, nil
}

// ============================================================================
// Helpers
// ============================================================================

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func parseAddress(field, raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: invalid %s %q", errBadRequest, field, raw)
	}
	return common.HexToAddress(raw), nil
}

func addressParam(params map[string]string, name string) (common.Address, error) {
	return parseAddress(name, params[name])
}

func pageParams(r *http.Request) (int, *int64, error) {
	q := r.URL.Query()
	var limit int
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: invalid limit", errBadRequest)
		}
		limit = n
	}
	var before *int64
	if v := q.Get("before"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: invalid before", errBadRequest)
		}
		before = &n
	}
	return limit, before, nil
}

// nonNil keeps empty lists as [] in JSON.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
