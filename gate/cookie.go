package gate

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SessionCookie is the cookie name carrying the signed session.
const SessionCookie = "sr_gate"

// ErrBadSignature covers tampered, truncated, or foreign-key cookie values.
var ErrBadSignature = errors.New("gate: cookie signature mismatch")

// CookieCodec signs sessions into a compact cookie value and verifies them
// back. The value is base64url(json) + "." + base64url(hmac-sha256).
type CookieCodec struct {
	secret []byte
	ttl    time.Duration
	secure bool
}

func NewCookieCodec(secret string, ttl time.Duration, secure bool) *CookieCodec {
	return &CookieCodec{secret: []byte(secret), ttl: ttl, secure: secure}
}

// Encode serializes and signs a session.
func (cc *CookieCodec) Encode(s *Session) (string, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("gate: encode session: %w", err)
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + cc.sign(body), nil
}

// Decode verifies the signature and deserializes the session.
func (cc *CookieCodec) Decode(value string) (*Session, error) {
	dot := strings.LastIndexByte(value, '.')
	if dot < 0 {
		return nil, ErrBadSignature
	}
	body, sig := value[:dot], value[dot+1:]
	if subtle.ConstantTimeCompare([]byte(cc.sign(body)), []byte(sig)) != 1 {
		return nil, ErrBadSignature
	}

	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, ErrBadSignature
	}
	var s Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("gate: decode session: %w", err)
	}
	return &s, nil
}

func (cc *CookieCodec) sign(body string) string {
	mac := hmac.New(sha256.New, cc.secret)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// SetCookie writes the signed session onto the response. HttpOnly and
// SameSite=Strict keep it out of page scripts and cross-site requests.
func (cc *CookieCodec) SetCookie(w http.ResponseWriter, s *Session) error {
	value, err := cc.Encode(s)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   int(cc.ttl.Seconds()),
		HttpOnly: true,
		Secure:   cc.secure,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}

// ReadCookie pulls the session off the request.
func (cc *CookieCodec) ReadCookie(r *http.Request) (*Session, error) {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil, ErrNoSession
	}
	return cc.Decode(c.Value)
}

// ClearCookie expires the session cookie.
func (cc *CookieCodec) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cc.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// CookieStore adapts one request/response pair to the Store port, so a
// session can live entirely client-side in the signed cookie. Build one per
// request.
type CookieStore struct {
	codec *CookieCodec
	w     http.ResponseWriter
	r     *http.Request
}

func NewCookieStore(codec *CookieCodec, w http.ResponseWriter, r *http.Request) *CookieStore {
	return &CookieStore{codec: codec, w: w, r: r}
}

func (cs *CookieStore) Read(ctx context.Context, wallet string) (*Session, error) {
	return cs.codec.ReadCookie(cs.r)
}

func (cs *CookieStore) Write(ctx context.Context, s *Session) error {
	return cs.codec.SetCookie(cs.w, s)
}

func (cs *CookieStore) Clear(ctx context.Context, wallet string) error {
	cs.codec.ClearCookie(cs.w)
	return nil
}
