package api

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

const (
	userContextKey         = "taskboard.user"
	sessionIDContextKey    = "taskboard.session_id"
	sessionErrorContextKey = "taskboard.session_error"
)

// identify resolves the session cookie, when present, to the current user.
// It never rejects a request; requireSession does that for protected routes.
func identify(creds Credentials, tokens *SessionTokens, logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sid, err := tokens.SessionIDFromRequest(c)
			if err != nil {
				if !errors.Is(err, errMissingSessionCookie) {
					tokens.ClearCookie(c)
				}
				return next(c)
			}

			authStart := time.Now()
			user, err := creds.ResolveSession(c.Request().Context(), sid)
			metricsFrom(c).ObserveAuth(time.Since(authStart))
			switch {
			case err == nil:
				c.Set(userContextKey, user)
				c.Set(sessionIDContextKey, sid)
				metricsFrom(c).SetUserID(user.ID)
			case errors.Is(err, domain.ErrUnauthenticated):
				tokens.ClearCookie(c)
			default:
				logger.WithError(err).Error("resolve session")
				c.Set(sessionErrorContextKey, err)
			}
			return next(c)
		}
	}
}

// requireSession redirects anonymous visitors to the login page.
func requireSession() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := currentUser(c); ok {
				return next(c)
			}
			if err, ok := c.Get(sessionErrorContextKey).(error); ok {
				metricsFrom(c).SetErrorStage("session_store")
				return err
			}
			metricsFrom(c).SetOutcome("unauthenticated")
			addFlash(c, flashInfo, "Please log in to access this page.")
			return c.Redirect(http.StatusFound, loginURL(c.Request()))
		}
	}
}

func currentUser(c echo.Context) (domain.User, bool) {
	u, ok := c.Get(userContextKey).(domain.User)
	return u, ok
}

func currentSessionID(c echo.Context) (string, bool) {
	sid, ok := c.Get(sessionIDContextKey).(string)
	return sid, ok && sid != ""
}

func loginURL(r *http.Request) string {
	if r.Method != http.MethodGet || r.URL.Path == "/" {
		return "/login"
	}
	return "/login?next=" + url.QueryEscape(r.URL.RequestURI())
}
