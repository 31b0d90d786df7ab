package middleware

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/labstack/echo/v4"

	"credproxy/internal/config"
)

// sessionKey is the echo.Context key holding the client session ID.
const sessionKey = "credproxy.session_id"

// Session returns an Echo middleware that identifies the client session.
//
// The session ID travels in a signed and encrypted cookie. A request without
// a valid cookie (missing, tampered, or sealed under another secret) starts a
// new session and the cookie is issued on the response. Server-side expiry is
// left to the jar store, so the cookie itself lives as long as the browser
// session.
func Session(cfg config.SessionConfig, logger *slog.Logger) echo.MiddlewareFunc {
	codec := newSessionCodec(cfg.Secret)
	logger = logger.With("component", "session")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var id string
			if ck, err := c.Cookie(cfg.CookieName); err == nil {
				if err := codec.Decode(cfg.CookieName, ck.Value, &id); err != nil {
					logger.Debug("discarding invalid session cookie", "err", err)
					id = ""
				}
			}

			if id == "" {
				id = uuid.NewString()
				encoded, err := codec.Encode(cfg.CookieName, id)
				if err != nil {
					return fmt.Errorf("encode session cookie: %w", err)
				}
				c.SetCookie(&http.Cookie{
					Name:     cfg.CookieName,
					Value:    encoded,
					Path:     "/",
					HttpOnly: true,
					Secure:   cfg.SecureCookie,
					SameSite: http.SameSiteLaxMode,
				})
			}

			c.Set(sessionKey, id)
			return next(c)
		}
	}
}

// SessionID returns the client session ID attached by Session, or "" when the
// middleware did not run.
func SessionID(c echo.Context) string {
	id, _ := c.Get(sessionKey).(string)
	return id
}

// newSessionCodec derives independent signing and encryption keys from the
// configured secret.
func newSessionCodec(secret string) *securecookie.SecureCookie {
	hashKey := sha256.Sum256([]byte("credproxy session hash\x00" + secret))
	blockKey := sha256.Sum256([]byte("credproxy session block\x00" + secret))

	codec := securecookie.New(hashKey[:], blockKey[:])
	// Expiry is enforced by the jar store TTL.
	codec.MaxAge(0)
	return codec
}
