package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ============================================================================
// ANALYTICS SERVICE (Agent Performance Fold)
// ============================================================================

// Keep a bounded trade history for the dashboard table.
const maxTradeHistory = 200

type SymbolStats struct {
	Symbol string  `json:"symbol"`
	Trades int     `json:"trades"`
	Wins   int     `json:"wins"`
	PnL    float64 `json:"pnl"`
}

// AnalyticsSummary is the aggregate view broadcast to private clients and
// served on /api/analytics.
type AnalyticsSummary struct {
	OpenPositions int           `json:"openPositions"`
	OpenNotional  float64       `json:"openNotional"`
	UnrealizedPnL float64       `json:"unrealizedPnl"`
	TradeCount    int           `json:"tradeCount"`
	WinCount      int           `json:"winCount"`
	LossCount     int           `json:"lossCount"`
	WinRate       float64       `json:"winRate"`
	TotalPnL      float64       `json:"totalPnl"`
	BestTrade     float64       `json:"bestTrade"`
	WorstTrade    float64       `json:"worstTrade"`
	PerSymbol     []SymbolStats `json:"perSymbol"`
	UpdatedAt     int64         `json:"updatedAt"`
}

// AnalyticsService folds the raw agent event stream into running stats.
type AnalyticsService struct {
	mu        sync.Mutex
	positions map[string]AgentPosition
	trades    []AgentTrade
	perSymbol map[string]*SymbolStats

	// Running totals
	TradeCount int
	WinCount   int
	LossCount  int
	TotalPnL   float64
	BestTrade  float64
	WorstTrade float64

	startedAt time.Time
	updatedAt int64

	done     chan struct{}
	stopOnce sync.Once
}

func NewAnalyticsService() *AnalyticsService {
	return &AnalyticsService{
		positions: make(map[string]AgentPosition),
		perSymbol: make(map[string]*SymbolStats),
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// UpdatePosition upserts an open position reported by the agent.
func (as *AnalyticsService) UpdatePosition(pos AgentPosition) {
	if pos.ID == "" {
		return
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	as.positions[pos.ID] = pos
	as.updatedAt = time.Now().UnixMilli()
}

// RecordTrade folds a closed round trip into the totals. The matching open
// position is retired under the same ID.
func (as *AnalyticsService) RecordTrade(tr AgentTrade) {
	as.mu.Lock()
	defer as.mu.Unlock()

	delete(as.positions, tr.ID)

	as.TradeCount++
	as.TotalPnL += tr.PnL
	if tr.PnL >= 0 {
		as.WinCount++
	} else {
		as.LossCount++
	}
	if tr.PnL > as.BestTrade {
		as.BestTrade = tr.PnL
	}
	if tr.PnL < as.WorstTrade {
		as.WorstTrade = tr.PnL
	}

	stats, ok := as.perSymbol[tr.Symbol]
	if !ok {
		stats = &SymbolStats{Symbol: tr.Symbol}
		as.perSymbol[tr.Symbol] = stats
	}
	stats.Trades++
	stats.PnL += tr.PnL
	if tr.PnL >= 0 {
		stats.Wins++
	}

	as.trades = append(as.trades, tr)
	if len(as.trades) > maxTradeHistory {
		as.trades = as.trades[len(as.trades)-maxTradeHistory:]
	}
	as.updatedAt = time.Now().UnixMilli()
}

// Summary snapshots the running totals.
func (as *AnalyticsService) Summary() AnalyticsSummary {
	as.mu.Lock()
	defer as.mu.Unlock()

	s := AnalyticsSummary{
		OpenPositions: len(as.positions),
		TradeCount:    as.TradeCount,
		WinCount:      as.WinCount,
		LossCount:     as.LossCount,
		TotalPnL:      as.TotalPnL,
		BestTrade:     as.BestTrade,
		WorstTrade:    as.WorstTrade,
		UpdatedAt:     as.updatedAt,
	}
	for _, pos := range as.positions {
		s.OpenNotional += pos.Notional
		s.UnrealizedPnL += pos.PnL
	}
	if as.TradeCount > 0 {
		s.WinRate = float64(as.WinCount) / float64(as.TradeCount) * 100
	}
	for _, stats := range as.perSymbol {
		s.PerSymbol = append(s.PerSymbol, *stats)
	}
	return s
}

// RecentTrades returns the trade history, newest last.
func (as *AnalyticsService) RecentTrades() []AgentTrade {
	as.mu.Lock()
	defer as.mu.Unlock()
	out := make([]AgentTrade, len(as.trades))
	copy(out, as.trades)
	return out
}

// OpenPositions returns the live position set.
func (as *AnalyticsService) OpenPositions() []AgentPosition {
	as.mu.Lock()
	defer as.mu.Unlock()
	out := make([]AgentPosition, 0, len(as.positions))
	for _, pos := range as.positions {
		out = append(out, pos)
	}
	return out
}

// GetDailyReport renders a Markdown performance summary for Telegram.
func (as *AnalyticsService) GetDailyReport() string {
	s := as.Summary()

	report := "📊 *AGENT PERFORMANCE*\n"
	report += "━━━━━━━━━━━━━━━━━━━━\n"
	report += fmt.Sprintf("Trades: %d (✅ %d / ❌ %d)\n", s.TradeCount, s.WinCount, s.LossCount)
	report += fmt.Sprintf("Win Rate: %.1f%%\n", s.WinRate)
	report += fmt.Sprintf("Total PnL: $%.2f\n", s.TotalPnL)
	report += fmt.Sprintf("Best: $%.2f | Worst: $%.2f\n", s.BestTrade, s.WorstTrade)
	report += fmt.Sprintf("Open: %d positions ($%.0f notional)\n", s.OpenPositions, s.OpenNotional)
	report += fmt.Sprintf("Uptime: %s", time.Since(as.startedAt).Round(time.Minute))
	return report
}

// HandleAnalytics serves GET /api/analytics (behind the gate).
func (as *AnalyticsService) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(map[string]interface{}{
		"summary":   as.Summary(),
		"positions": as.OpenPositions(),
	})
}

// HandleTrades serves GET /api/trades (behind the gate).
func (as *AnalyticsService) HandleTrades(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(map[string]interface{}{
		"trades": as.RecentTrades(),
	})
}

// StartBroadcasting pushes the summary to private clients on a fixed beat.
func (as *AnalyticsService) StartBroadcasting(hub *Hub, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-as.done:
				return
			case <-ticker.C:
				hub.Broadcast(map[string]interface{}{
					"type":    "analytics",
					"summary": as.Summary(),
				})
			}
		}
	}()
}

func (as *AnalyticsService) Stop() {
	as.stopOnce.Do(func() { close(as.done) })
}
