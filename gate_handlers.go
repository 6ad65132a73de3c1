package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"superrouter/gate"
)

// ============================================================================
// GATE HTTP LAYER
// ============================================================================

// GateService exposes the balance gate over HTTP and guards the private
// surfaces. The verifier tracks the operator's connected wallet (one ambient
// identity per deployment, mirroring one terminal session); stateless
// visitors are covered by the signed session cookie instead.
type GateService struct {
	verifier *gate.Verifier
	codec    *gate.CookieCodec
	store    gate.Store
	policy   gate.Policy
	limiter  *walletLimiter
}

func NewGateService(verifier *gate.Verifier, codec *gate.CookieCodec, store gate.Store, policy gate.Policy, limiter *walletLimiter) *GateService {
	return &GateService{
		verifier: verifier,
		codec:    codec,
		store:    store,
		policy:   policy,
		limiter:  limiter,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HandleConnect tracks wallet connect/disconnect from the dashboard. A change
// of wallet schedules one background verification, the response reports the
// cached state right away.
func (gs *GateService) HandleConnect(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Wallet string `json:"wallet"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	gs.verifier.SetWallet(r.Context(), req.Wallet)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"wallet":           req.Wallet,
		"gated":            gs.verifier.Gated(r.Context()),
		"remainingSeconds": int64(gs.verifier.Remaining(r.Context()).Seconds()),
	})
}

// HandleVerify runs an explicit balance verification for a wallet and hands
// the session back as a signed cookie.
func (gs *GateService) HandleVerify(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Wallet string `json:"wallet"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Wallet == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "wallet required"})
		return
	}

	if !gs.limiter.Allow(req.Wallet) {
		metricGateVerifications.WithLabelValues("throttled").Inc()
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many verification attempts"})
		return
	}

	gated, err := gs.verifier.VerifyNow(r.Context(), req.Wallet)
	if err != nil {
		// Fail closed. The stored session is untouched, so an existing valid
		// session keeps its gate until it expires on its own.
		metricGateVerifications.WithLabelValues("error").Inc()
		log.Printf("⚠️ GATE: verify %s failed: %v", shortMint(req.Wallet), err)
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"gated": false,
			"error": "balance lookup failed",
		})
		return
	}

	outcome := "denied"
	if gated {
		outcome = "passed"
	}
	metricGateVerifications.WithLabelValues(outcome).Inc()

	s, readErr := gs.store.Read(r.Context(), req.Wallet)
	if readErr != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "session not persisted"})
		return
	}

	// Mirror the session into the signed cookie through the same Store port.
	cookies := gate.NewCookieStore(gs.codec, w, r)
	if err := cookies.Write(r.Context(), s); err != nil {
		log.Printf("⚠️ GATE: cookie write failed: %v", err)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"gated":            gated,
		"wallet":           req.Wallet,
		"snapshot":         s.Snapshot,
		"remainingSeconds": int64(s.Remaining(gs.policy.SessionTTL, time.Now()).Seconds()),
	})
}

// HandleStatus reports the cached verdict. It never triggers a lookup.
func (gs *GateService) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	wallet, remaining, gated := gs.gateWindow(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"gated":            gated,
		"wallet":           wallet,
		"remainingSeconds": int64(remaining.Seconds()),
	})
}

// HandleSession drops the session (DELETE): cookie and server side.
func (gs *GateService) HandleSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		if s, err := gs.codec.ReadCookie(r); err == nil {
			wallet = s.Wallet
		}
	}
	if wallet == "" {
		wallet = gs.verifier.Wallet()
	}

	if wallet != "" {
		if err := gs.store.Clear(r.Context(), wallet); err != nil {
			log.Printf("⚠️ GATE: clear session for %s: %v", shortMint(wallet), err)
		}
	}
	gs.codec.ClearCookie(w)

	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// RequireGate guards an endpoint with the cached gate verdict.
func (gs *GateService) RequireGate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, _, gated := gs.gateWindow(r); !gated {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "gate locked"})
			return
		}
		next(w, r)
	}
}

// ServePrivateWS admits gated clients to the private hub and kicks them the
// moment their session lapses.
func (gs *GateService) ServePrivateWS(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, remaining, gated := gs.gateWindow(r)
		if !gated {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "gate locked"})
			return
		}

		conn, err := hub.HandleUpgrade(w, r)
		if err != nil {
			return
		}

		kick := time.AfterFunc(remaining, func() {
			hub.CloseClient(conn, map[string]string{"type": "gate_expired"})
		})
		defer kick.Stop()

		hub.RunClient(conn)
	}
}

// gateWindow resolves the request's gate verdict without any lookup: the
// signed cookie first (self-contained), then the ambient operator session.
// Returns the wallet the verdict is about and how long it stays valid.
func (gs *GateService) gateWindow(r *http.Request) (string, time.Duration, bool) {
	claimed := r.URL.Query().Get("wallet")

	if s, err := gs.codec.ReadCookie(r); err == nil {
		wallet := claimed
		if wallet == "" {
			wallet = s.Wallet
		}
		if s.Valid(wallet, gs.policy.SessionTTL, time.Now()) && s.Snapshot.USDValue >= gs.policy.MinUSD {
			return wallet, s.Remaining(gs.policy.SessionTTL, time.Now()), true
		}
	}

	if claimed == "" || claimed == gs.verifier.Wallet() {
		if gs.verifier.Gated(r.Context()) {
			return gs.verifier.Wallet(), gs.verifier.Remaining(r.Context()), true
		}
	}

	wallet := claimed
	if wallet == "" {
		wallet = gs.verifier.Wallet()
	}
	return wallet, 0, false
}
