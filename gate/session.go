package gate

import "time"

// Snapshot is the holding picture captured at verification time.
type Snapshot struct {
	Balance  float64 `json:"balance"`
	USDValue float64 `json:"usdValue"`
	PriceUSD float64 `json:"priceUsd"`
}

// Session records a completed verification for one wallet. The snapshot is
// what the wallet held at VerifiedAt, it is not kept live afterwards.
type Session struct {
	Wallet     string   `json:"wallet"`
	Snapshot   Snapshot `json:"snapshot"`
	VerifiedAt int64    `json:"verifiedAt"` // unix milliseconds
}

// Valid reports whether the session still covers wallet at time now.
// A wallet switch invalidates instantly regardless of remaining lifetime.
func (s *Session) Valid(wallet string, ttl time.Duration, now time.Time) bool {
	if s == nil || wallet == "" || s.Wallet != wallet {
		return false
	}
	return now.UnixMilli()-s.VerifiedAt < ttl.Milliseconds()
}

// Remaining returns how much lifetime the session has left, zero once spent.
func (s *Session) Remaining(ttl time.Duration, now time.Time) time.Duration {
	if s == nil {
		return 0
	}
	left := ttl - time.Duration(now.UnixMilli()-s.VerifiedAt)*time.Millisecond
	if left < 0 {
		return 0
	}
	return left
}
