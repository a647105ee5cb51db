package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// newErrorHandler renders 404 and error pages. Internal error text never
// reaches the client.
func newErrorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
		}
		if status >= http.StatusInternalServerError {
			logger.WithError(err).WithFields(log.Fields{
				"route":  c.Path(),
				"method": c.Request().Method,
			}).Error("request failed")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}

		page, title := "error.html", "Error"
		if status == http.StatusNotFound {
			page, title = "not_found.html", "Not found"
		}
		if rerr := render(c, status, page, pageData{Title: title}); rerr != nil {
			logger.WithError(rerr).Error("render error page")
			_ = c.String(status, http.StatusText(status))
		}
	}
}
