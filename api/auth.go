package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"

	"taskboard/domain"
)

const sessionCookieName = "taskboard_session"

var (
	errMissingSessionCookie = errors.New("missing session cookie")
	errBadSessionToken      = errors.New("bad session token")
)

// SessionTokens signs and verifies the session cookie. The token only
// carries the session id and user id; the session table stays authoritative.
type SessionTokens struct {
	Secret       []byte
	CookieSecure bool

	parser *jwt.Parser
}

// NewSessionTokens creates a token signer using an HMAC secret.
func NewSessionTokens(secret []byte, cookieSecure bool) *SessionTokens {
	return &SessionTokens{
		Secret:       secret,
		CookieSecure: cookieSecure,
		parser:       jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

// Issue returns a signed token for the session.
func (a *SessionTokens) Issue(s domain.Session) (string, error) {
	claims := jwt.MapClaims{
		"jti": s.ID,
		"sub": strconv.FormatInt(s.UserID, 10),
		"iat": s.CreatedAt.Unix(),
		"exp": s.ExpiresAt.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
}

// SessionIDFromToken validates the token and extracts the session id.
func (a *SessionTokens) SessionIDFromToken(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", errMissingSessionCookie
	}
	token, err := a.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.Secret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	now := time.Now().Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return "", errors.New("token expired")
	}
	if sub, _ := claims["sub"].(string); sub == "" {
		return "", errors.New("missing sub")
	}
	sid, _ := claims["jti"].(string)
	if sid == "" {
		return "", errBadSessionToken
	}
	return sid, nil
}

// SessionIDFromRequest reads and validates the session cookie.
func (a *SessionTokens) SessionIDFromRequest(c echo.Context) (string, error) {
	cookie, err := c.Cookie(sessionCookieName)
	if err != nil {
		return "", errMissingSessionCookie
	}
	return a.SessionIDFromToken(cookie.Value)
}

// SetCookie stores the signed session token on the response.
func (a *SessionTokens) SetCookie(c echo.Context, s domain.Session) error {
	token, err := a.Issue(s)
	if err != nil {
		return err
	}
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   a.CookieSecure,
		Expires:  s.ExpiresAt,
	})
	return nil
}

// ClearCookie removes the session cookie from the browser.
func (a *SessionTokens) ClearCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   a.CookieSecure,
		MaxAge:   -1,
	})
}
