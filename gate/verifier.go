package gate

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// LookupFunc fetches the live holding snapshot for a wallet. Implemented by
// the wallet service against the balance and price providers.
type LookupFunc func(ctx context.Context, wallet string) (Snapshot, error)

// Policy decides what passing verification means. The threshold is the USD
// value of the holding, not the raw token amount.
type Policy struct {
	MinUSD        float64
	SessionTTL    time.Duration
	SweepInterval time.Duration // expiry sweep cadence, default 1 minute
}

const lookupTimeout = 15 * time.Second

// Verifier tracks one active wallet, checks its holdings through the lookup,
// and caches the verdict in the Store. A wallet switch with no valid session
// triggers exactly one automatic verification, and a background sweep clears
// sessions once they age out.
type Verifier struct {
	policy Policy
	store  Store
	lookup LookupFunc
	now    func() time.Time
	silent bool

	mu       sync.Mutex
	wallet   string
	inFlight bool

	sweeper   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

func NewVerifier(policy Policy, store Store, lookup LookupFunc) *Verifier {
	if policy.SweepInterval <= 0 {
		policy.SweepInterval = time.Minute
	}
	return &Verifier{
		policy: policy,
		store:  store,
		lookup: lookup,
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// SetWallet switches the active wallet, empty means disconnected. When the
// new wallet has no valid session, one background verification kicks off.
func (v *Verifier) SetWallet(ctx context.Context, wallet string) {
	v.mu.Lock()
	if v.wallet == wallet {
		v.mu.Unlock()
		return
	}
	v.wallet = wallet
	v.mu.Unlock()

	if wallet == "" {
		return
	}
	if !v.silent {
		log.Printf("👛 GATE: active wallet now %s", shortWallet(wallet))
	}

	// A session may have survived a restart, only verify when it does not hold.
	if v.Gated(ctx) {
		return
	}
	go func() {
		bg, cancel := context.WithTimeout(context.Background(), lookupTimeout)
		defer cancel()
		if _, err := v.Verify(bg); err != nil && !v.silent {
			log.Printf("⚠️ GATE: auto-verify for %s failed: %v", shortWallet(wallet), err)
		}
	}()
}

// Wallet returns the active wallet address, empty when disconnected.
func (v *Verifier) Wallet() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.wallet
}

// VerifyNow adopts the wallet as the active one and runs one synchronous
// verification against it. This is the explicit "check my balance" path, as
// opposed to the background verification SetWallet schedules.
func (v *Verifier) VerifyNow(ctx context.Context, wallet string) (bool, error) {
	v.mu.Lock()
	changed := v.wallet != wallet
	v.wallet = wallet
	v.mu.Unlock()

	if wallet == "" {
		return false, nil
	}
	if changed && !v.silent {
		log.Printf("👛 GATE: active wallet now %s", shortWallet(wallet))
	}
	return v.Verify(ctx)
}

// Verify runs a fresh holdings lookup for the active wallet and persists a
// new session on success, pass or fail. Concurrent calls collapse: while a
// lookup is in flight other callers get the cached verdict instead of a
// second upstream hit. A failing lookup fails closed and leaves the stored
// session untouched.
func (v *Verifier) Verify(ctx context.Context) (bool, error) {
	v.mu.Lock()
	wallet := v.wallet
	if wallet == "" {
		v.mu.Unlock()
		return false, nil
	}
	if v.inFlight {
		v.mu.Unlock()
		return v.Gated(ctx), nil
	}
	v.inFlight = true
	v.mu.Unlock()

	defer func() {
		v.mu.Lock()
		v.inFlight = false
		v.mu.Unlock()
	}()

	snap, err := v.lookup(ctx, wallet)
	if err != nil {
		return false, fmt.Errorf("gate: lookup %s: %w", shortWallet(wallet), err)
	}

	s := &Session{
		Wallet:     wallet,
		Snapshot:   snap,
		VerifiedAt: v.now().UnixMilli(),
	}
	if err := v.store.Write(ctx, s); err != nil {
		return false, fmt.Errorf("gate: persist session: %w", err)
	}

	passed := snap.USDValue >= v.policy.MinUSD
	if !v.silent {
		if passed {
			log.Printf("✅ GATE: %s verified ($%.2f / min $%.2f)", shortWallet(wallet), snap.USDValue, v.policy.MinUSD)
		} else {
			log.Printf("🚫 GATE: %s below threshold ($%.2f / min $%.2f)", shortWallet(wallet), snap.USDValue, v.policy.MinUSD)
		}
	}
	return passed, nil
}

// Gated reports the cached verdict: an active wallet, a live session for
// it, and a snapshot clearing the threshold. No lookup happens here.
func (v *Verifier) Gated(ctx context.Context) bool {
	v.mu.Lock()
	wallet := v.wallet
	v.mu.Unlock()
	if wallet == "" {
		return false
	}

	s, err := v.store.Read(ctx, wallet)
	if err != nil {
		return false
	}
	if !s.Valid(wallet, v.policy.SessionTTL, v.now()) {
		return false
	}
	return s.Snapshot.USDValue >= v.policy.MinUSD
}

// Remaining reports how long the current session stays valid.
func (v *Verifier) Remaining(ctx context.Context) time.Duration {
	v.mu.Lock()
	wallet := v.wallet
	v.mu.Unlock()
	if wallet == "" {
		return 0
	}

	s, err := v.store.Read(ctx, wallet)
	if err != nil || !s.Valid(wallet, v.policy.SessionTTL, v.now()) {
		return 0
	}
	return s.Remaining(v.policy.SessionTTL, v.now())
}

// ClearSession drops the stored session for the active wallet. The actual
// holdings are untouched, the next Verify rebuilds the session.
func (v *Verifier) ClearSession(ctx context.Context) error {
	v.mu.Lock()
	wallet := v.wallet
	v.mu.Unlock()
	if wallet == "" {
		return nil
	}
	return v.store.Clear(ctx, wallet)
}

// Start launches the expiry sweep so gating flips off on its own instead of
// waiting for the next request to notice.
func (v *Verifier) Start() {
	v.mu.Lock()
	if v.sweeper != nil {
		v.mu.Unlock()
		return
	}
	v.sweeper = time.NewTicker(v.policy.SweepInterval)
	ticker := v.sweeper
	v.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				v.sweep()
			case <-v.done:
				return
			}
		}
	}()
}

// Close stops the sweeper. Safe to call more than once.
func (v *Verifier) Close() {
	v.closeOnce.Do(func() {
		v.mu.Lock()
		if v.sweeper != nil {
			v.sweeper.Stop()
		}
		v.mu.Unlock()
		close(v.done)
	})
}

// sweep clears the session once it has aged out. It never re-verifies, the
// wallet owner has to trigger that again.
func (v *Verifier) sweep() {
	v.mu.Lock()
	wallet := v.wallet
	v.mu.Unlock()
	if wallet == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := v.store.Read(ctx, wallet)
	if err != nil {
		return
	}
	if !s.Valid(wallet, v.policy.SessionTTL, v.now()) {
		if err := v.store.Clear(ctx, wallet); err == nil && !v.silent {
			log.Printf("⏰ GATE: session for %s expired, cleared", shortWallet(wallet))
		}
	}
}

// shortWallet trims an address down so log lines stay scannable.
func shortWallet(w string) string {
	if len(w) <= 12 {
		return w
	}
	return w[:6] + ".." + w[len(w)-4:]
}
