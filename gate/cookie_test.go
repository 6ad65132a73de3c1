package gate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testSession() *Session {
	return &Session{
		Wallet:     "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU",
		Snapshot:   Snapshot{Balance: 1200, USDValue: 150, PriceUSD: 0.125},
		VerifiedAt: 1_700_000_000_000,
	}
}

func TestCookieCodecRoundTrip(t *testing.T) {
	cc := NewCookieCodec("test-secret", time.Hour, false)

	value, err := cc.Encode(testSession())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := cc.Decode(value)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *got != *testSession() {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestCookieCodecRejectsTampering(t *testing.T) {
	cc := NewCookieCodec("test-secret", time.Hour, false)
	value, err := cc.Encode(testSession())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	tampered := "A" + value[1:]
	if tampered == value {
		tampered = "B" + value[1:]
	}
	if _, err := cc.Decode(tampered); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for tampered payload, got %v", err)
	}

	if _, err := cc.Decode("no-dot-here"); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for garbage, got %v", err)
	}
}

func TestCookieCodecRejectsForeignKey(t *testing.T) {
	value, err := NewCookieCodec("key-one", time.Hour, false).Encode(testSession())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := NewCookieCodec("key-two", time.Hour, false).Decode(value); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature across keys, got %v", err)
	}
}

func TestSetAndReadCookie(t *testing.T) {
	cc := NewCookieCodec("test-secret", time.Hour, false)

	rec := httptest.NewRecorder()
	if err := cc.SetCookie(rec, testSession()); err != nil {
		t.Fatalf("set cookie: %v", err)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != SessionCookie {
		t.Fatalf("unexpected cookie name %q", c.Name)
	}
	if !c.HttpOnly {
		t.Fatal("cookie must be HttpOnly")
	}
	if c.SameSite != http.SameSiteStrictMode {
		t.Fatal("cookie must be SameSite=Strict")
	}
	if c.MaxAge != 3600 {
		t.Fatalf("expected MaxAge 3600, got %d", c.MaxAge)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	got, err := cc.ReadCookie(req)
	if err != nil {
		t.Fatalf("read cookie: %v", err)
	}
	if got.Wallet != testSession().Wallet {
		t.Fatalf("wallet mismatch: %s", got.Wallet)
	}
}

func TestReadCookieMissing(t *testing.T) {
	cc := NewCookieCodec("test-secret", time.Hour, false)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := cc.ReadCookie(req); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestClearCookie(t *testing.T) {
	cc := NewCookieCodec("test-secret", time.Hour, false)
	rec := httptest.NewRecorder()
	cc.ClearCookie(rec)

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 cookie, got %d", len(cookies))
	}
	if cookies[0].MaxAge >= 0 {
		t.Fatalf("expected expiring MaxAge, got %d", cookies[0].MaxAge)
	}
	if cookies[0].Value != "" {
		t.Fatalf("expected empty value, got %q", cookies[0].Value)
	}
}

func TestCookieStorePort(t *testing.T) {
	cc := NewCookieCodec("test-secret", time.Hour, false)
	ctx := context.Background()

	// Write through the port on one response...
	rec := httptest.NewRecorder()
	writeStore := NewCookieStore(cc, rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if err := writeStore.Write(ctx, testSession()); err != nil {
		t.Fatalf("write: %v", err)
	}

	// ...then read it back through the port on the next request.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	readStore := NewCookieStore(cc, httptest.NewRecorder(), req)
	got, err := readStore.Read(ctx, testSession().Wallet)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Snapshot.USDValue != 150 {
		t.Fatalf("unexpected snapshot: %+v", got.Snapshot)
	}
}
