package api

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// taskIDParam parses the :id route parameter. A malformed id is reported as
// a missing page, the same as an unknown id.
func taskIDParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.ErrNotFound
	}
	return id, nil
}

// safeNext only allows redirects to local absolute paths.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") {
		return "/"
	}
	if strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	if strings.ContainsAny(next, "\r\n") {
		return "/"
	}
	return next
}
