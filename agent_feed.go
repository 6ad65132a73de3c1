package main

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"superrouter/config"
	"superrouter/stream"
)

// ============================================================================
// AGENT FEED (Trading Agent Event Stream)
// ============================================================================

// AgentPosition is one open position reported by the trading agent.
type AgentPosition struct {
	ID         string  `json:"id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"` // "LONG" or "SHORT"
	EntryPrice float64 `json:"entryPrice"`
	Size       float64 `json:"size"`
	Notional   float64 `json:"notional"`
	PnL        float64 `json:"pnl"`
	OpenedAt   int64   `json:"openedAt"`
}

// AgentTrade is a finished round trip.
type AgentTrade struct {
	ID       string  `json:"id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Entry    float64 `json:"entry"`
	Exit     float64 `json:"exit"`
	Size     float64 `json:"size"`
	PnL      float64 `json:"pnl"`
	PnLPct   float64 `json:"pnlPct"`
	ClosedAt int64   `json:"closedAt"`
}

type agentFrame struct {
	Type      string         `json:"type"`
	Position  *AgentPosition `json:"position,omitempty"`
	Trade     *AgentTrade    `json:"trade,omitempty"`
	State     string         `json:"state,omitempty"`
	Timestamp int64          `json:"ts"`
}

// AgentFeedService consumes the trading agent's event stream and fans it out
// to the private hub, the analytics fold and the alert channels.
type AgentFeedService struct {
	client     *stream.Client
	publicHub  *Hub
	privateHub *Hub
	analytics  *AnalyticsService
	notifier   *NotificationService
	push       *PushService

	mu          sync.Mutex
	lastEventAt int64
}

// NewAgentFeedService returns nil when no feed URL is configured, callers
// treat a nil service as "agent offline".
func NewAgentFeedService(cfg *config.Config, publicHub, privateHub *Hub, analytics *AnalyticsService, notifier *NotificationService, push *PushService) *AgentFeedService {
	if cfg.AgentFeedURL == "" {
		log.Println("⚠️ AGENT FEED DISABLED: No AGENT_FEED_URL configured.")
		return nil
	}

	af := &AgentFeedService{
		publicHub:  publicHub,
		privateHub: privateHub,
		analytics:  analytics,
		notifier:   notifier,
		push:       push,
	}

	af.client = stream.New(stream.Config{
		URL:         cfg.AgentFeedURL,
		Name:        "Agent Feed",
		BaseDelay:   cfg.AgentBaseDelay,
		MaxAttempts: cfg.AgentMaxRetries,
		OnConnect:   af.onConnect,
		OnMessage:   af.handleMessage,
		OnStatus:    af.onStatus,
	})
	return af
}

func (af *AgentFeedService) Start() {
	if af == nil {
		return
	}
	af.client.Connect()
}

func (af *AgentFeedService) Close() {
	if af == nil {
		return
	}
	af.client.Close()
}

// Reconnect resets the retry budget and forces a fresh dial. Wired to
// POST /api/agent/reconnect for recovery after the budget is exhausted.
func (af *AgentFeedService) Reconnect() {
	if af == nil {
		return
	}
	log.Println("🎯 AGENT FEED: Manual reconnect requested.")
	af.client.Reconnect()
}

func (af *AgentFeedService) Status() stream.Status {
	if af == nil {
		return stream.StatusDisconnected
	}
	return af.client.Status()
}

func (af *AgentFeedService) Attempt() int {
	if af == nil {
		return 0
	}
	return af.client.Attempt()
}

// LastEventAt reports the Unix ms timestamp of the newest feed event.
func (af *AgentFeedService) LastEventAt() int64 {
	if af == nil {
		return 0
	}
	af.mu.Lock()
	defer af.mu.Unlock()
	return af.lastEventAt
}

func (af *AgentFeedService) onConnect() {
	metricAgentConnected.Set(1)

	// The agent multiplexes channels over one socket, ask for all of them.
	af.client.Send(map[string]interface{}{
		"type":     "subscribe",
		"channels": []string{"positions", "trades", "status"},
	})
}

func (af *AgentFeedService) onStatus(s stream.Status) {
	switch s {
	case stream.StatusConnected:
		metricAgentConnected.Set(1)
	case stream.StatusConnecting:
		metricAgentReconnects.Inc()
		metricAgentConnected.Set(0)
	default:
		metricAgentConnected.Set(0)
	}

	if af.publicHub != nil {
		af.publicHub.Broadcast(map[string]interface{}{
			"type":      "agent_status",
			"status":    string(s),
			"timestamp": time.Now().UnixMilli(),
		})
	}

	if s == stream.StatusFailed && af.notifier != nil {
		af.notifier.Notify("❌ *AGENT FEED DOWN*\nRetry budget exhausted. POST /api/agent/reconnect to recover.")
	}
}

func (af *AgentFeedService) handleMessage(message []byte) {
	var frame agentFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		log.Printf("⚠️ [Agent Feed] Dropping undecodable frame: %v", err)
		return
	}

	af.mu.Lock()
	af.lastEventAt = time.Now().UnixMilli()
	af.mu.Unlock()

	switch frame.Type {
	case "position":
		if frame.Position == nil {
			return
		}
		metricAgentEvents.WithLabelValues("position").Inc()
		if af.analytics != nil {
			af.analytics.UpdatePosition(*frame.Position)
		}
		if af.privateHub != nil {
			af.privateHub.Broadcast(map[string]interface{}{
				"type":     "position",
				"position": frame.Position,
			})
		}

	case "trade":
		if frame.Trade == nil {
			return
		}
		metricAgentEvents.WithLabelValues("trade").Inc()
		if af.analytics != nil {
			af.analytics.RecordTrade(*frame.Trade)
		}
		if af.privateHub != nil {
			af.privateHub.Broadcast(map[string]interface{}{
				"type":  "trade",
				"trade": frame.Trade,
			})
		}
		if af.push != nil {
			go af.push.SendTradeAlert(*frame.Trade)
		}
		if af.notifier != nil {
			af.notifier.Notify(formatTradeNote(*frame.Trade))
		}

	case "status":
		metricAgentEvents.WithLabelValues("status").Inc()
		if af.publicHub != nil {
			af.publicHub.Broadcast(map[string]interface{}{
				"type":      "agent_state",
				"state":     frame.State,
				"timestamp": frame.Timestamp,
			})
		}

	default:
		metricAgentEvents.WithLabelValues("unknown").Inc()
		log.Printf("⚠️ [Agent Feed] Unknown frame type %q", frame.Type)
	}
}

func formatTradeNote(tr AgentTrade) string {
	emoji := "✅"
	if tr.PnL < 0 {
		emoji = "❌"
	}
	return fmt.Sprintf("%s *TRADE CLOSED*\n%s %s\nPnL: $%.2f (%.2f%%)", emoji, tr.Symbol, tr.Side, tr.PnL, tr.PnLPct)
}
