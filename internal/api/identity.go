package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/shiplog/shiplog/internal/catalog"
)

// Cookie configuration.
const (
	userCookieName = "uid"
	cookieMaxAge   = 30 * 24 * 3600 // 30 days in seconds

	adminTokenHeader = "X-Admin-Token"
)

// Context key types (unexported to prevent collisions).
type userIDCtxKey struct{}
type tierCtxKey struct{}

var ctxKeyUserID = userIDCtxKey{}
var ctxKeyTier = tierCtxKey{}

// userIDFromContext retrieves the caller identity from the request context.
// Returns empty string and false if not found.
func userIDFromContext(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(ctxKeyUserID).(string)
	return uid, ok
}

// tierFromContext retrieves the caller's access tier from the request
// context. Defaults to the public tier when absent.
func tierFromContext(ctx context.Context) catalog.Tier {
	tier, ok := ctx.Value(ctxKeyTier).(catalog.Tier)
	if !ok {
		return catalog.TierPublic
	}
	return tier
}

// identityManager owns the uid cookie and admin-token checks.
type identityManager struct {
	hmacSecret []byte
	adminToken string
	isDev      bool
	logger     *slog.Logger
}

// UserID extracts the caller identity from the uid cookie.
// Returns empty string if the cookie is absent, the HMAC signature is
// invalid, or the value is not a UUID. The signature check makes the
// cookie tamper-evident; the UUID check keeps malformed owner IDs out
// of SQL queries.
func (im *identityManager) UserID(r *http.Request) string {
	cookie, err := r.Cookie(userCookieName)
	if err != nil {
		return ""
	}
	uid, ok := verifySignedUID(cookie.Value, im.hmacSecret)
	if !ok {
		return ""
	}
	if _, err := uuid.Parse(uid); err != nil {
		return ""
	}
	return uid
}

// Tier resolves the caller's access tier from the admin token header.
// An empty configured token disables the admin tier entirely.
func (im *identityManager) Tier(r *http.Request) catalog.Tier {
	if im.adminToken == "" {
		return catalog.TierPublic
	}
	token := r.Header.Get(adminTokenHeader)
	if token == "" {
		return catalog.TierPublic
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(im.adminToken)) != 1 {
		im.logger.Warn("admin token mismatch", "path", r.URL.Path)
		return catalog.TierPublic
	}
	return catalog.TierAdmin
}

func (im *identityManager) setUserCookie(w http.ResponseWriter, userID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     userCookieName,
		Value:    signUID(userID, im.hmacSecret),
		Path:     "/",
		Secure:   !im.isDev,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   cookieMaxAge,
	})
}

// identityMiddleware auto-provisions and extracts caller identity.
// On first visit, generates a new UUID and sets the uid cookie.
// The caller's tier is resolved from the admin token header per request.
func identityMiddleware(im *identityManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := im.UserID(r)
			if userID == "" {
				userID = uuid.New().String()
				im.setUserCookie(w, userID)
			}
			ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
			ctx = context.WithValue(ctx, ctxKeyTier, im.Tier(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// signUID creates an HMAC-signed cookie value:
// "uid.base64url(HMAC-SHA256(secret, uid))".
func signUID(uid string, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(uid))
	sig := base64.URLEncoding.EncodeToString(h.Sum(nil))
	return uid + "." + sig
}

// verifySignedUID splits a signed cookie value and verifies the HMAC
// signature. Returns the extracted UID and true on success, or empty
// string and false on any failure.
func verifySignedUID(value string, secret []byte) (string, bool) {
	idx := strings.LastIndex(value, ".")
	if idx < 1 {
		return "", false
	}

	uid := value[:idx]
	sig, err := base64.URLEncoding.DecodeString(value[idx+1:])
	if err != nil {
		return "", false
	}

	h := hmac.New(sha256.New, secret)
	h.Write([]byte(uid))
	expected := h.Sum(nil)

	if subtle.ConstantTimeCompare(sig, expected) != 1 {
		return "", false
	}

	return uid, true
}
