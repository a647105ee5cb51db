package api

import (
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const flashSessionName = "taskboard_flash"

// Flash categories.
const (
	flashSuccess = "success"
	flashInfo    = "info"
	flashDanger  = "danger"
)

var flashCategories = []string{flashSuccess, flashInfo, flashDanger}

type flashMessage struct {
	Category string
	Text     string
}

// newFlashStore returns the signed cookie store transient messages travel in.
func newFlashStore(secret []byte, secure bool) sessions.Store {
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

func addFlash(c echo.Context, category, text string) {
	sess, err := session.Get(flashSessionName, c)
	if sess == nil {
		log.WithError(err).Warn("flash session unavailable")
		return
	}
	sess.AddFlash(text, category)
	if err := sess.Save(c.Request(), c.Response()); err != nil {
		log.WithError(err).Warn("save flash")
	}
}

// popFlashes returns and clears pending messages.
func popFlashes(c echo.Context) []flashMessage {
	sess, _ := session.Get(flashSessionName, c)
	if sess == nil {
		return nil
	}
	var out []flashMessage
	for _, category := range flashCategories {
		for _, v := range sess.Flashes(category) {
			if text, ok := v.(string); ok {
				out = append(out, flashMessage{Category: category, Text: text})
			}
		}
	}
	if len(out) > 0 {
		if err := sess.Save(c.Request(), c.Response()); err != nil {
			log.WithError(err).Warn("clear flashes")
		}
	}
	return out
}
