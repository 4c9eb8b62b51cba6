package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-order-saga/internal/errs"
)

// statusOf maps an error category to its HTTP status.  Errors outside the
// taxonomy are infrastructure failures.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errs.ErrArgument):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrAlreadyInUse):
		return http.StatusConflict
	case errors.Is(err, errs.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// fail writes err as a JSON error body.  Internal failures are logged and
// answered with a generic message.
func fail(c echo.Context, err error) error {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
		return c.JSON(code, echo.Map{"error": "internal error"})
	}
	return c.JSON(code, echo.Map{"error": err.Error()})
}
