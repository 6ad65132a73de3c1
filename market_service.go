package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"superrouter/cache"
	"superrouter/config"
	"superrouter/stream"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

// ============================================================================
// MARKET SERVICE (Quotes + Live Ticker)
// ============================================================================

// PriceQuote is the normalized answer for one mint.
type PriceQuote struct {
	Mint      string  `json:"mint"`
	Symbol    string  `json:"symbol,omitempty"`
	PriceUSD  float64 `json:"priceUsd"`
	Source    string  `json:"source"`
	UpdatedAt int64   `json:"updatedAt"` // Unix milliseconds
}

// MarketService answers USD price lookups. Order of attack: TTL cache,
// Birdeye (keyed), DexScreener (keyless), Binance spot for registry majors.
// The Birdeye key never leaves this process, browsers only see /api/price.
type MarketService struct {
	quotes     *cache.TTLCache
	httpClient *http.Client
	binance    *binance.Client

	birdeyeBase string
	birdeyeKey  string
	dexBase     string
}

func NewMarketService(cfg *config.Config) *MarketService {
	return &MarketService{
		quotes:      cache.New(cfg.PriceCacheTTL, time.Minute),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		binance:     binance.NewClient("", ""), // Public endpoints only
		birdeyeBase: cfg.BirdeyeBaseURL,
		birdeyeKey:  cfg.BirdeyeAPIKey,
		dexBase:     "https://api.dexscreener.com",
	}
}

func (ms *MarketService) Close() {
	ms.quotes.Close()
}

// GetQuote resolves the USD price for a mint. The bool reports a cache hit.
func (ms *MarketService) GetQuote(ctx context.Context, mint string) (PriceQuote, bool, error) {
	if v, ok := ms.quotes.Get(mint); ok {
		metricPriceLookups.WithLabelValues("cache").Inc()
		return v.(PriceQuote), true, nil
	}

	quote, err := ms.fetchQuote(ctx, mint)
	if err != nil {
		metricPriceLookups.WithLabelValues("error").Inc()
		return PriceQuote{}, false, err
	}

	ms.quotes.Set(mint, quote)
	metricPriceLookups.WithLabelValues(quote.Source).Inc()
	return quote, false, nil
}

func (ms *MarketService) fetchQuote(ctx context.Context, mint string) (PriceQuote, error) {
	info, known := LookupToken(mint)

	// 1. Birdeye (authoritative for Solana mints, needs an API key)
	if ms.birdeyeKey != "" {
		quote, err := ms.fetchBirdeye(ctx, mint)
		if err == nil {
			quote.Symbol = info.Symbol
			return quote, nil
		}
		log.Printf("[Market] Birdeye lookup failed for %s: %v", shortMint(mint), err)
	}

	// 2. DexScreener (keyless fallback)
	quote, dexErr := ms.fetchDexScreener(ctx, mint)
	if dexErr == nil {
		quote.Symbol = info.Symbol
		return quote, nil
	}
	log.Printf("[Market] DexScreener lookup failed for %s: %v", shortMint(mint), dexErr)

	// 3. Binance spot (registry majors only)
	if known && info.BinanceSymbol != "" {
		quote, err := ms.fetchBinance(ctx, info)
		if err == nil {
			return quote, nil
		}
		log.Printf("[Market] Binance lookup failed for %s: %v", info.BinanceSymbol, err)
	}

	return PriceQuote{}, fmt.Errorf("market: no price source for %s: %w", shortMint(mint), dexErr)
}

type birdeyePriceResp struct {
	Data struct {
		Value          float64 `json:"value"`
		UpdateUnixTime int64   `json:"updateUnixTime"`
	} `json:"data"`
	Success bool `json:"success"`
}

func (ms *MarketService) fetchBirdeye(ctx context.Context, mint string) (PriceQuote, error) {
	url := fmt.Sprintf("%s/defi/price?address=%s", ms.birdeyeBase, mint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return PriceQuote{}, err
	}
	req.Header.Set("X-API-KEY", ms.birdeyeKey)
	req.Header.Set("x-chain", "solana")

	resp, err := ms.httpClient.Do(req)
	if err != nil {
		return PriceQuote{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return PriceQuote{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	var out birdeyePriceResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return PriceQuote{}, err
	}
	if !out.Success || out.Data.Value <= 0 {
		return PriceQuote{}, fmt.Errorf("empty price payload")
	}

	return PriceQuote{
		Mint:      mint,
		PriceUSD:  out.Data.Value,
		Source:    "birdeye",
		UpdatedAt: time.Now().UnixMilli(),
	}, nil
}

type dexScreenerResp struct {
	Pairs []struct {
		PriceUsd  string `json:"priceUsd"`
		BaseToken struct {
			Address string `json:"address"`
			Symbol  string `json:"symbol"`
		} `json:"baseToken"`
		Liquidity struct {
			USD float64 `json:"usd"`
		} `json:"liquidity"`
	} `json:"pairs"`
}

func (ms *MarketService) fetchDexScreener(ctx context.Context, mint string) (PriceQuote, error) {
	url := fmt.Sprintf("%s/latest/dex/tokens/%s", ms.dexBase, mint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return PriceQuote{}, err
	}

	resp, err := ms.httpClient.Do(req)
	if err != nil {
		return PriceQuote{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return PriceQuote{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	var out dexScreenerResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return PriceQuote{}, err
	}

	// DexScreener sends prices as strings, pick the deepest pool.
	best := decimal.Zero
	bestLiq := -1.0
	for _, pair := range out.Pairs {
		if !strings.EqualFold(pair.BaseToken.Address, mint) {
			continue
		}
		price, err := decimal.NewFromString(pair.PriceUsd)
		if err != nil || price.IsZero() {
			continue
		}
		if pair.Liquidity.USD > bestLiq {
			best = price
			bestLiq = pair.Liquidity.USD
		}
	}
	if best.IsZero() {
		return PriceQuote{}, fmt.Errorf("no tradable pairs")
	}

	priceF, _ := best.Float64()
	return PriceQuote{
		Mint:      mint,
		PriceUSD:  priceF,
		Source:    "dexscreener",
		UpdatedAt: time.Now().UnixMilli(),
	}, nil
}

func (ms *MarketService) fetchBinance(ctx context.Context, info TokenInfo) (PriceQuote, error) {
	prices, err := ms.binance.NewListPricesService().Symbol(info.BinanceSymbol).Do(ctx)
	if err != nil {
		return PriceQuote{}, err
	}
	if len(prices) == 0 {
		return PriceQuote{}, fmt.Errorf("no price for %s", info.BinanceSymbol)
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil || price <= 0 {
		return PriceQuote{}, fmt.Errorf("bad price %q", prices[0].Price)
	}

	return PriceQuote{
		Mint:      info.Mint,
		Symbol:    info.Symbol,
		PriceUSD:  price,
		Source:    "binance",
		UpdatedAt: time.Now().UnixMilli(),
	}, nil
}

// HandlePrice serves GET /api/price?mint=...
func (ms *MarketService) HandlePrice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")

	mint := r.URL.Query().Get("mint")
	if mint == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "mint parameter required"})
		return
	}

	quote, cached, err := ms.GetQuote(r.Context(), mint)
	if err != nil {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"error": "price unavailable"})
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"quote":  quote,
		"cached": cached,
	})
}

// ============================================================================
// LIVE TICKER FEED (Binance Spot)
// ============================================================================

type binanceCombinedMsg struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type binanceTradeData struct {
	Price string `json:"p"`
	Qty   string `json:"q"`
	Time  int64  `json:"T"`
}

func extractSymbol(streamName string) string {
	parts := strings.Split(streamName, "@")
	if len(parts) == 0 {
		return "UNKNOWN"
	}
	symbolPart := strings.ToUpper(parts[0])
	if strings.HasSuffix(symbolPart, "USDT") {
		return symbolPart[:len(symbolPart)-4]
	}
	return symbolPart
}

// StartTickerFeed streams Binance spot trades for the configured symbols into
// the throttler. Returns the stream client so main can close it on shutdown.
func (ms *MarketService) StartTickerFeed(symbols []string, throttler *PriceThrottler) *stream.Client {
	var streams []string
	for _, s := range symbols {
		streams = append(streams, fmt.Sprintf("%s@aggTrade", strings.ToLower(s)))
	}
	url := "wss://stream.binance.com:9443/stream?streams=" + strings.Join(streams, "/")

	client := stream.New(stream.Config{
		URL:  url,
		Name: "Binance Ticker",
		OnMessage: func(message []byte) {
			var msg binanceCombinedMsg
			if err := json.Unmarshal(message, &msg); err != nil {
				return
			}
			var trade binanceTradeData
			if err := json.Unmarshal(msg.Data, &trade); err != nil {
				return
			}
			price, _ := strconv.ParseFloat(trade.Price, 64)
			if price <= 0 {
				return
			}
			throttler.UpdatePrice(extractSymbol(msg.Stream), price)
		},
	})
	client.Connect()
	return client
}

func shortMint(mint string) string {
	if len(mint) <= 12 {
		return mint
	}
	return mint[:6] + ".." + mint[len(mint)-4:]
}
