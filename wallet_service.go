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

	"github.com/shopspring/decimal"
)

// ============================================================================
// WALLET SERVICE (Gate Token Balances)
// ============================================================================

// Quoter is the slice of MarketService the wallet side needs.
type Quoter interface {
	GetQuote(ctx context.Context, mint string) (PriceQuote, bool, error)
}

// WalletService resolves how much of the gate token a wallet holds and what
// that position is worth. It is the balance lookup behind gate verification.
type WalletService struct {
	quoter     Quoter
	httpClient *http.Client

	mint        string
	birdeyeBase string
	birdeyeKey  string
}

func NewWalletService(quoter Quoter, cfg *config.Config) *WalletService {
	return &WalletService{
		quoter:      quoter,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		mint:        cfg.GateTokenMint,
		birdeyeBase: cfg.BirdeyeBaseURL,
		birdeyeKey:  cfg.BirdeyeAPIKey,
	}
}

// LookupHolding is the gate.LookupFunc wired into the verifier. Any error
// here must surface unchanged so the gate fails closed without touching the
// stored session.
func (ws *WalletService) LookupHolding(ctx context.Context, wallet string) (gate.Snapshot, error) {
	amount, err := ws.fetchBalance(ctx, wallet)
	if err != nil {
		return gate.Snapshot{}, err
	}

	quote, _, err := ws.quoter.GetQuote(ctx, ws.mint)
	if err != nil {
		return gate.Snapshot{}, err
	}

	// Raw units * 10^-decimals * price, kept exact until the final snapshot.
	price := decimal.NewFromFloat(quote.PriceUSD)
	usd := amount.Mul(price)

	balance, _ := amount.Float64()
	usdValue, _ := usd.Float64()

	log.Printf("👛 [Wallet] %s holds %s tokens ($%.2f)", shortMint(wallet), amount.StringFixed(4), usdValue)

	return gate.Snapshot{
		Balance:  balance,
		USDValue: usdValue,
		PriceUSD: quote.PriceUSD,
	}, nil
}

type birdeyeBalanceResp struct {
	Data struct {
		Balance  int64 `json:"balance"`
		Decimals int32 `json:"decimals"`
	} `json:"data"`
	Success bool `json:"success"`
}

// fetchBalance returns the wallet's gate-token balance in UI units.
func (ws *WalletService) fetchBalance(ctx context.Context, wallet string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/v1/wallet/token_balance?wallet=%s&token_address=%s", ws.birdeyeBase, wallet, ws.mint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("X-API-KEY", ws.birdeyeKey)
	req.Header.Set("x-chain", "solana")

	resp, err := ws.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("wallet: balance lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("wallet: balance lookup status %d", resp.StatusCode)
	}

	var out birdeyeBalanceResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Zero, fmt.Errorf("wallet: decode balance: %w", err)
	}
	if !out.Success {
		return decimal.Zero, fmt.Errorf("wallet: provider rejected balance lookup")
	}

	decimals := out.Data.Decimals
	if decimals == 0 {
		// Some responses omit decimals for empty accounts, fall back to the
		// registry so a zero balance still scales correctly.
		if info, ok := LookupToken(ws.mint); ok {
			decimals = info.Decimals
		}
	}

	return decimal.New(out.Data.Balance, -decimals), nil
}
