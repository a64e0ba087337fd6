// Package auth gates the admin endpoints behind a signed session cookie.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Defaults for the session cookie.
const (
	DefaultCookieName = "devtrend_admin_session"
	DefaultSessionTTL = 12 * time.Hour
)

// Config holds the admin credential and cookie settings.
type Config struct {
	User string
	// Password is compared in constant time. Ignored when PasswordHash is set.
	Password string
	// PasswordHash is a bcrypt hash of the password.
	PasswordHash string
	// Secret signs session tokens. When empty a key is derived from the credential,
	// so changing the password invalidates existing sessions.
	Secret       string
	CookieName   string
	SessionTTL   time.Duration
	SecureCookie bool
}

// Gate validates credentials and session cookies.
type Gate struct {
	cfg Config
	key []byte
	now func() time.Time
}

type ctxKey struct{}

// New returns a Gate. A Gate without user or password is unconfigured and rejects everything.
func New(cfg Config) *Gate {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	material := cfg.Secret
	if material == "" {
		material = "session\x00" + cfg.User + "\x00" + cfg.Password + "\x00" + cfg.PasswordHash
	}
	key := sha256.Sum256([]byte(material))
	return &Gate{cfg: cfg, key: key[:], now: time.Now}
}

// Configured reports whether an admin credential is set.
func (g *Gate) Configured() bool {
	return g.cfg.User != "" && (g.cfg.Password != "" || g.cfg.PasswordHash != "")
}

// User returns the configured admin user name.
func (g *Gate) User() string {
	return g.cfg.User
}

// CheckCredentials reports whether user and password match the configured credential.
func (g *Gate) CheckCredentials(user, password string) bool {
	if !g.Configured() {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(user)), []byte(g.cfg.User)) == 1
	var passOK bool
	if g.cfg.PasswordHash != "" {
		passOK = bcrypt.CompareHashAndPassword([]byte(g.cfg.PasswordHash), []byte(password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(g.cfg.Password)) == 1
	}
	return userOK && passOK
}

// IssueCookie returns a session cookie for user.
func (g *Gate) IssueCookie(user string) *http.Cookie {
	expires := g.now().Add(g.cfg.SessionTTL)
	return &http.Cookie{
		Name:     g.cfg.CookieName,
		Value:    g.sign(user, expires),
		Path:     "/",
		MaxAge:   int(g.cfg.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   g.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie returns a cookie that removes the session.
func (g *Gate) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     g.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}

// Authenticated returns the session user when r carries a valid, unexpired session cookie.
func (g *Gate) Authenticated(r *http.Request) (string, bool) {
	if !g.Configured() {
		return "", false
	}
	c, err := r.Cookie(g.cfg.CookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return g.verify(c.Value)
}

// Require rejects requests without a valid session with 401.
func (g *Gate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := g.Authenticated(r)
		if !ok {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
	})
}

// UserFromContext returns the user set by Require.
func UserFromContext(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(ctxKey{}).(string)
	return user, ok
}

func (g *Gate) sign(user string, expires time.Time) string {
	payload := user + "|" + strconv.FormatInt(expires.Unix(), 10)
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(payload)) + "." + enc.EncodeToString(g.mac(payload))
}

func (g *Gate) verify(token string) (string, bool) {
	encPayload, encSig, ok := strings.Cut(token, ".")
	if !ok {
		return "", false
	}
	enc := base64.RawURLEncoding
	rawPayload, err := enc.DecodeString(encPayload)
	if err != nil {
		return "", false
	}
	sig, err := enc.DecodeString(encSig)
	if err != nil {
		return "", false
	}
	payload := string(rawPayload)
	if !hmac.Equal(sig, g.mac(payload)) {
		return "", false
	}
	idx := strings.LastIndexByte(payload, '|')
	if idx < 0 {
		return "", false
	}
	user := payload[:idx]
	expires, err := strconv.ParseInt(payload[idx+1:], 10, 64)
	if err != nil || g.now().Unix() >= expires {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(user), []byte(g.cfg.User)) != 1 {
		return "", false
	}
	return user, true
}

func (g *Gate) mac(payload string) []byte {
	h := hmac.New(sha256.New, g.key)
	h.Write([]byte(payload))
	return h.Sum(nil)
}
