package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/cache"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/chain"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/claimerr"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/claimlink"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/config"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/eligibility"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/grant"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/hmacauth"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/redemption"
	"github.com/MohamedNourDerbeli/TrustFi-v2-sub002/internal/retry"
)

type Server struct {
	cfg      *config.AppConfig
	chain    chain.Client
	store    cache.Store
	signer   *grant.Signer
	redeemer *redemption.Redeemer
	syncer   *cache.Syncer
	hmac     *hmacauth.Verifier
	metrics  *metricsRegistry
	log      *slog.Logger

	httpServer    *http.Server
	rpcHealthFn   func(context.Context) error
	cacheHealthFn func(context.Context) error
}

// NewServer wires the HTTP edge around the claim pipeline. signer may be
// nil for deployments that only redeem.
func NewServer(cfg *config.AppConfig, chainClient chain.Client, store cache.Store, signer *grant.Signer, eval *eligibility.Evaluator, log *slog.Logger) *Server {
	metrics := newMetricsRegistry()

	retryCfg := retry.Config{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
		Multiplier:     cfg.Retry.BackoffMultiplier,
		Jitter:         cfg.Retry.Jitter,
		OnRetry: func(int, time.Duration) {
			metrics.incRetry("retry")
		},
	}

	domain := grant.Domain{
		ChainID:           big.NewInt(cfg.Chain.ChainID),
		VerifyingContract: common.HexToAddress(cfg.Chain.CardContract),
	}

	redeemer := &redemption.Redeemer{
		Chain:    chainClient,
		Store:    store,
		Eval:     eval,
		Verifier: grant.Verifier{Domain: domain},
		Retry:    retryCfg,
		Log:      log,
	}

	syncer := &cache.Syncer{
		Store:       store,
		Chain:       chainClient,
		Retry:       retryCfg,
		Interval:    cfg.Service.SyncInterval,
		Log:         log,
		OnSyncError: metrics.incSyncFailure,
		OnResync:    metrics.setTemplatesCached,
	}
	if events, ok := chainClient.(chain.EventReader); ok {
		syncer.Events = events
	}

	s := &Server{
		cfg:      cfg,
		chain:    chainClient,
		store:    store,
		signer:   signer,
		redeemer: redeemer,
		syncer:   syncer,
		hmac: &hmacauth.Verifier{
			Secret:  cfg.Seed.Secrets.IssuerAPISalt,
			MaxSkew: cfg.Service.HMACClockSkew,
		},
		metrics: metrics,
		log:     log,
	}

	if checker, ok := chainClient.(chain.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}
	if checker, ok := store.(interface{ Ping(context.Context) error }); ok {
		s.cacheHealthFn = checker.Ping
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/grants", s.hmac.Middleware(http.HandlerFunc(s.handleCreateGrant)))
	mux.HandleFunc("/api/v1/claims", s.handleRedeem)
	mux.HandleFunc("/api/v1/claims/precheck", s.handlePrecheck)
	mux.HandleFunc("/api/v1/templates/", s.handleTemplate)
	mux.Handle("/api/v1/metrics", metrics.handler())
	mux.HandleFunc("/api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// Syncer exposes the cache syncer so the entrypoint can run its loop.
func (s *Server) Syncer() *cache.Syncer { return s.syncer }

func (s *Server) Start() error {
	s.log.Info("API listening", slog.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type createGrantRequest struct {
	User         string `json:"user"`
	ProfileOwner string `json:"profileOwner"`
	TemplateID   string `json:"templateId"`
	TokenURI     string `json:"tokenURI"`
}

type createGrantResponse struct {
	ClaimURL     string `json:"claimUrl"`
	User         string `json:"user"`
	ProfileOwner string `json:"profileOwner"`
	TemplateID   string `json:"templateId"`
	Nonce        string `json:"nonce"`
	TokenURI     string `json:"tokenURI"`
	Signature    string `json:"signature"`
}

func (s *Server) handleCreateGrant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.signer == nil {
		http.Error(w, "issuer signing key not configured", http.StatusServiceUnavailable)
		return
	}

	var payload createGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if err := validateCreateGrantRequest(payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	templateID, _ := new(big.Int).SetString(payload.TemplateID, 10)

	ctx := r.Context()

	t, err := s.loadTemplate(ctx, templateID)
	if err != nil {
		s.metrics.incGrant("failed")
		http.Error(w, "failed to load template: "+err.Error(), http.StatusBadGateway)
		return
	}
	if !t.Exists() {
		s.metrics.incGrant("rejected")
		http.Error(w, "unknown template", http.StatusNotFound)
		return
	}
	if t.Issuer != s.signer.Address() {
		s.metrics.incGrant("rejected")
		http.Error(w, "signing key does not match template issuer", http.StatusForbidden)
		return
	}

	g := grant.ClaimGrant{
		User:         common.HexToAddress(payload.User),
		ProfileOwner: common.HexToAddress(payload.ProfileOwner),
		TemplateID:   templateID,
		Nonce:        grant.NewNonce(),
		TokenURI:     payload.TokenURI,
	}
	sigHex, err := s.signer.Sign(g)
	if err != nil {
		s.metrics.incGrant("failed")
		http.Error(w, "failed to sign grant: "+err.Error(), http.StatusInternalServerError)
		return
	}
	link, err := claimlink.Encode(s.cfg.Service.ClaimBaseURL, g, sigHex)
	if err != nil {
		s.metrics.incGrant("failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.metrics.incGrant("created")
	writeJSON(w, http.StatusCreated, createGrantResponse{
		ClaimURL:     link,
		User:         g.User.Hex(),
		ProfileOwner: g.ProfileOwner.Hex(),
		TemplateID:   g.TemplateID.String(),
		Nonce:        g.Nonce.String(),
		TokenURI:     g.TokenURI,
		Signature:    sigHex,
	})
}

type redeemRequest struct {
	Link string `json:"link"`
}

type redeemResponse struct {
	FlowID string `json:"flowId,omitempty"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	TxHash string `json:"txHash,omitempty"`
	CardID uint64 `json:"cardId,omitempty"`
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.Link) == "" {
		http.Error(w, "link is required", http.StatusBadRequest)
		return
	}

	outcome, err := s.redeemer.Redeem(r.Context(), payload.Link)
	if outcome.Cancelled {
		s.metrics.incRedemption("cancelled")
		writeJSON(w, http.StatusOK, redeemResponse{FlowID: outcome.FlowID, Status: "cancelled"})
		return
	}
	if err != nil {
		kind := redemption.ErrKind(err)
		s.metrics.incRedemption(kind.String())
		writeJSON(w, statusForKind(kind), redeemResponse{
			FlowID: outcome.FlowID,
			Status: "failed",
			Reason: reasonFor(err),
			TxHash: outcome.TxHash,
		})
		return
	}

	s.metrics.incRedemption("succeeded")
	writeJSON(w, http.StatusOK, redeemResponse{
		FlowID: outcome.FlowID,
		Status: "succeeded",
		TxHash: outcome.TxHash,
		CardID: outcome.CardID,
	})
}

type precheckResponse struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) handlePrecheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}

	res, err := s.redeemer.Precheck(r.Context(), payload.Link)
	if err != nil {
		kind := redemption.ErrKind(err)
		writeJSON(w, statusForKind(kind), precheckResponse{Eligible: false, Reason: reasonFor(err)})
		return
	}
	writeJSON(w, http.StatusOK, precheckResponse{Eligible: res.Eligible, Reason: res.Reason})
}

type templateResponse struct {
	TemplateID      string            `json:"templateId"`
	Issuer          string            `json:"issuer"`
	MaxSupply       uint64            `json:"maxSupply"`
	CurrentSupply   uint64            `json:"currentSupply"`
	Tier            int64             `json:"tier"`
	StartTime       uint64            `json:"startTime"`
	EndTime         uint64            `json:"endTime"`
	IsPaused        bool              `json:"isPaused"`
	EligibilityType string            `json:"eligibilityType"`
	Requirements    map[string]string `json:"requirements,omitempty"`
}

func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/templates/")
	id, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		http.Error(w, "invalid template id", http.StatusBadRequest)
		return
	}

	t, err := s.loadTemplate(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to load template: "+err.Error(), http.StatusBadGateway)
		return
	}
	if !t.Exists() {
		http.Error(w, "unknown template", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, templateResponse{
		TemplateID:      t.ID.String(),
		Issuer:          t.Issuer.Hex(),
		MaxSupply:       t.MaxSupply,
		CurrentSupply:   t.CurrentSupply,
		Tier:            t.Tier,
		StartTime:       t.StartTime,
		EndTime:         t.EndTime,
		IsPaused:        t.Paused,
		EligibilityType: t.Eligibility.String(),
		Requirements:    t.Requirements,
	})
}

// loadTemplate serves reads from the cache when possible and falls back to
// the chain, refreshing the cache on the way out.
func (s *Server) loadTemplate(ctx context.Context, id *big.Int) (eligibility.Template, error) {
	if cached, err := s.store.Template(ctx, id); err == nil && cached != nil {
		return *cached, nil
	}
	t, err := s.chain.Template(ctx, id)
	if err != nil {
		return eligibility.Template{}, err
	}
	if t.Exists() {
		if err := s.store.UpsertTemplate(ctx, t); err != nil {
			s.log.Warn("cache upsert failed", slog.Any("error", claimerr.CacheSync(err)))
			s.metrics.incSyncFailure()
		}
	}
	return t, nil
}

func validateCreateGrantRequest(req createGrantRequest) error {
	if !common.IsHexAddress(req.User) {
		return errors.New("user must be a hex address")
	}
	if !common.IsHexAddress(req.ProfileOwner) {
		return errors.New("profileOwner must be a hex address")
	}
	if id, ok := new(big.Int).SetString(req.TemplateID, 10); !ok || id.Sign() < 0 {
		return errors.New("templateId must be an unsigned decimal integer")
	}
	if strings.TrimSpace(req.TokenURI) == "" {
		return errors.New("tokenURI is required")
	}
	return nil
}

func statusForKind(kind claimerr.Kind) int {
	switch kind {
	case claimerr.KindMalformedLink:
		return http.StatusBadRequest
	case claimerr.KindSignerMismatch:
		return http.StatusUnprocessableEntity
	case claimerr.KindNotEligible, claimerr.KindChainRevert:
		return http.StatusConflict
	case claimerr.KindNetwork:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func reasonFor(err error) string {
	var ce *claimerr.Error
	if errors.As(err, &ce) && ce.Reason != "" {
		return ce.Reason
	}
	return err.Error()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		rpcInfo.Connected = true
	}

	cacheInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.cacheHealthFn != nil {
		cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.cacheHealthFn(cacheCtx); err != nil {
			cacheInfo.Connected = false
			cacheInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status string      `json:"status"`
		RPC    interface{} `json:"rpc"`
		Cache  interface{} `json:"cache"`
	}{
		Status: status,
		RPC:    rpcInfo,
		Cache:  cacheInfo,
	}

	w.Header().Set("Content-Type", "application/json")
	if !overallHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-Id") == "" {
			r.Header.Set("X-Request-Id", uuid.NewString())
		}
		next.ServeHTTP(w, r)
	})
}
