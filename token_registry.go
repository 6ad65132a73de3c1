package main

import "sync"

// TokenInfo describes one SPL token the dashboard deals with.
type TokenInfo struct {
	Symbol        string `json:"symbol"`
	Mint          string `json:"mint"`
	Decimals      int32  `json:"decimals"`
	BinanceSymbol string `json:"-"` // empty when Binance does not list it
}

var (
	registryMu sync.RWMutex

	// Known mints, keyed by mint address. The gate token from config is
	// merged in at startup via RegisterToken.
	tokenRegistry = map[string]TokenInfo{
		"So11111111111111111111111111111111111111112": {
			Symbol:        "SOL",
			Mint:          "So11111111111111111111111111111111111111112",
			Decimals:      9,
			BinanceSymbol: "SOLUSDT",
		},
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": {
			Symbol:        "USDC",
			Mint:          "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			Decimals:      6,
			BinanceSymbol: "USDCUSDT",
		},
		"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": {
			Symbol:   "USDT",
			Mint:     "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
			Decimals: 6,
		},
		"JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN": {
			Symbol:        "JUP",
			Mint:          "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN",
			Decimals:      6,
			BinanceSymbol: "JUPUSDT",
		},
		"DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263": {
			Symbol:        "BONK",
			Mint:          "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263",
			Decimals:      5,
			BinanceSymbol: "BONKUSDT",
		},
	}
)

// RegisterToken adds or replaces a registry entry.
func RegisterToken(info TokenInfo) {
	if info.Mint == "" {
		return
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	tokenRegistry[info.Mint] = info
}

// LookupToken resolves a mint to its registry entry.
func LookupToken(mint string) (TokenInfo, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, ok := tokenRegistry[mint]
	return info, ok
}
