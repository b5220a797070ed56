package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"soundshelf/internal/domain"
	"soundshelf/internal/service"
)

const (
	sessionCookie   = "soundshelf_session"
	sessionAudience = "session"
	principalKey    = "soundshelf.principal"
)

// Principal is the outcome of resolving a request's session: either an
// authenticated user or anonymous (nil user).
type Principal struct {
	user *domain.User
}

func Authenticated(user *domain.User) Principal { return Principal{user: user} }

func Anonymous() Principal { return Principal{} }

// User returns the authenticated user, if any.
func (p Principal) User() (*domain.User, bool) {
	return p.user, p.user != nil
}

func principalFrom(c *gin.Context) Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(Principal); ok {
			return p
		}
	}
	return Anonymous()
}

// sessionCodec signs the user id into the session cookie.
type sessionCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func newSessionCodec(secret []byte, ttl time.Duration) sessionCodec {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return sessionCodec{secret: secret, ttl: ttl, now: time.Now}
}

func (s sessionCodec) issue(userID int64) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		Audience:  jwt.ClaimStrings{sessionAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return signed, nil
}

func (s sessionCodec) parse(raw string) (int64, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(sessionAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("session subject %q is not a user id", claims.Subject)
	}
	return id, nil
}

// sessionMiddleware resolves the session cookie into a Principal once per
// request. Bad or expired cookies and deleted users are anonymous; a failing
// store aborts the request.
func (h *Handler) sessionMiddleware(c *gin.Context) {
	principal := Anonymous()
	if raw, err := c.Cookie(sessionCookie); err == nil && raw != "" {
		if userID, err := h.session.parse(raw); err == nil {
			user, err := h.deps.Users.GetByID(c.Request.Context(), userID)
			switch {
			case err == nil:
				principal = Authenticated(user)
			case errors.Is(err, service.ErrNotFound):
			default:
				h.fail(c, err)
				c.Abort()
				return
			}
		}
	}
	c.Set(principalKey, principal)
	c.Next()
}

// requireUser turns an anonymous request into 401 before next runs.
func (h *Handler) requireUser(next func(*gin.Context, *domain.User)) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := principalFrom(c).User()
		if !ok {
			h.fail(c, service.ErrNotLoggedIn)
			return
		}
		next(c, user)
	}
}

func (h *Handler) startSession(c *gin.Context, userID int64) error {
	token, err := h.session.issue(userID)
	if err != nil {
		return err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, token, int(h.session.ttl.Seconds()), "/", "", h.deps.CookieSecure, true)
	return nil
}

func (h *Handler) endSession(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, "", -1, "/", "", h.deps.CookieSecure, true)
}
