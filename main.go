package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"superrouter/config"
	"superrouter/gate"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// ============================================================================
// MAIN ENGINE
// ============================================================================

func main() {
	log.Println("🚀 SuperRouter Gateway Starting...")
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	cfg := config.LoadConfig()
	startedAt := time.Now()

	// Make sure the gate token resolves through the registry even when it is
	// not one of the builtin mints.
	if cfg.GateTokenMint != "" {
		if _, known := LookupToken(cfg.GateTokenMint); !known {
			RegisterToken(TokenInfo{Symbol: "GATE", Mint: cfg.GateTokenMint, Decimals: 9})
		}
	}

	// 1. Fan-out Hubs
	publicHub := NewHub("public")
	privateHub := NewHub("private")

	// 2. Market Data (Quotes + Live Ticker)
	market := NewMarketService(cfg)
	defer market.Close()

	throttler := NewPriceThrottler(publicHub)
	go throttler.Start()
	defer throttler.Stop()

	tickerFeed := market.StartTickerFeed(cfg.TickerSymbols, throttler)
	defer tickerFeed.Close()

	// 3. Balance Gate
	sessionStore, storeKind := newSessionStore(cfg)
	policy := gate.Policy{
		MinUSD:        cfg.GateMinUSD,
		SessionTTL:    cfg.GateSessionTTL,
		SweepInterval: time.Minute,
	}
	walletSvc := NewWalletService(market, cfg)
	verifier := gate.NewVerifier(policy, sessionStore, walletSvc.LookupHolding)
	verifier.Start()
	defer verifier.Close()

	codec := gate.NewCookieCodec(cfg.GateCookieSecret, cfg.GateSessionTTL, cfg.CookieSecure)
	gateSvc := NewGateService(verifier, codec, sessionStore, policy, newWalletLimiter(cfg.VerifyPerMinute, cfg.VerifyBurst))

	// 4. Operator Channels (Telegram + FCM)
	notifier := NewNotificationService()
	pushService := NewPushService()
	if pushService != nil {
		go pushService.StartWorker()
	}

	// 5. Agent Pipeline
	analytics := NewAnalyticsService()
	defer analytics.Stop()

	agentFeed := NewAgentFeedService(cfg, publicHub, privateHub, analytics, notifier, pushService)
	agentFeed.Start()
	defer agentFeed.Close()

	analytics.StartBroadcasting(privateHub, 10*time.Second)

	publicHub.SetJoinSnapshot(func() interface{} {
		return map[string]interface{}{
			"type":      "connection_init",
			"status":    "connected",
			"agentFeed": string(agentFeed.Status()),
			"timestamp": time.Now().UnixMilli(),
		}
	})
	privateHub.SetJoinSnapshot(func() interface{} {
		return map[string]interface{}{
			"type":      "connection_init",
			"summary":   analytics.Summary(),
			"positions": analytics.OpenPositions(),
			"timestamp": time.Now().UnixMilli(),
		}
	})

	if notifier != nil {
		notifier.Notify("🚀 *SUPERROUTER ONLINE*\nGate, market feed and agent relay active.")
		go notifier.StartEventListener(
			func() string {
				return buildStatusReport(startedAt, agentFeed, publicHub, privateHub, storeKind)
			},
			analytics.GetDailyReport,
			agentFeed.Reconnect,
		)
	}

	// 6. Routes
	mux := http.NewServeMux()

	mux.HandleFunc("/ws/public", publicHub.HandleWebSocket)
	mux.HandleFunc("/ws/private", gateSvc.ServePrivateWS(privateHub))

	mux.HandleFunc("/api/gate/connect", gateSvc.HandleConnect)
	mux.HandleFunc("/api/gate/verify", gateSvc.HandleVerify)
	mux.HandleFunc("/api/gate/status", gateSvc.HandleStatus)
	mux.HandleFunc("/api/gate/session", gateSvc.HandleSession)

	mux.HandleFunc("/api/price", market.HandlePrice)
	mux.HandleFunc("/api/analytics", gateSvc.RequireGate(analytics.HandleAnalytics))
	mux.HandleFunc("/api/trades", gateSvc.RequireGate(analytics.HandleTrades))

	mux.HandleFunc("/api/agent/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    string(agentFeed.Status()),
			"attempt":   agentFeed.Attempt(),
			"lastEvent": agentFeed.LastEventAt(),
		})
	})

	mux.HandleFunc("/api/agent/reconnect", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		agentFeed.Reconnect()
		writeJSON(w, http.StatusOK, map[string]string{"status": "reconnecting"})
	})

	mux.HandleFunc("/healthz", NewHealthHandler(startedAt, agentFeed, publicHub, privateHub, storeKind))

	// System Health Ping - Returns server time for latency checks
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json")

		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "ok",
			"server_time": time.Now().UnixMilli(),
			"timestamp":   time.Now().Format(time.RFC3339),
		})
	})

	mux.Handle("/metrics", promhttp.Handler())

	log.Printf("📡 GATEWAY: Listening on :%s", cfg.Port)
	log.Println("   ├── /ws/public   (Ticker + Agent Status)")
	log.Println("   ├── /ws/private  (Positions + Analytics, gated)")
	log.Println("   ├── /api/gate/*  (Verify + Sessions)")
	log.Println("   └── /api/price   (Quote Proxy)")
	log.Println("✅ All systems go")
	if err := http.ListenAndServe(":"+cfg.Port, mux); err != nil {
		log.Fatal(err)
	}
}

// newSessionStore picks Redis when configured and reachable, otherwise the
// in-memory store. Sessions are cheap to rebuild, losing them on a restart
// only costs one re-verification.
func newSessionStore(cfg *config.Config) (gate.Store, string) {
	if cfg.RedisAddr == "" {
		return gate.NewMemoryStore(), "memory"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("⚠️ Redis unreachable at %s (%v). Falling back to in-memory sessions.", cfg.RedisAddr, err)
		return gate.NewMemoryStore(), "memory"
	}

	log.Printf("✅ Session store: Redis at %s", cfg.RedisAddr)
	return gate.NewRedisStore(client, cfg.GateSessionTTL), "redis"
}

func buildStatusReport(startedAt time.Time, agentFeed *AgentFeedService, publicHub, privateHub *Hub, storeKind string) string {
	report := "🛰️ *GATEWAY STATUS*\n"
	report += "━━━━━━━━━━━━━━━━━━━━\n"
	report += fmt.Sprintf("Agent Feed: %s (attempt %d)\n", agentFeed.Status(), agentFeed.Attempt())
	report += fmt.Sprintf("Clients: %d public / %d private\n", publicHub.ClientCount(), privateHub.ClientCount())
	report += fmt.Sprintf("Sessions: %s\n", storeKind)
	report += fmt.Sprintf("Uptime: %s", time.Since(startedAt).Round(time.Minute))
	return report
}
