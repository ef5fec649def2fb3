package handler

import (
	"database/sql"
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/haatos/conveyor/internal/service"
)

// ErrorHandler maps service errors onto HTTP statuses in one place so
// handlers only return errors: Authentication → 403, Conflict → 409,
// Validation → 422, Transient → 503, Integrity → 500, unknown rows → 404.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "something went wrong"

	var (
		authErr       service.AuthenticationError
		conflictErr   service.ConflictError
		validationErr service.ValidationError
		transientErr  service.TransientError
		integrityErr  service.IntegrityError
		httpErr       *echo.HTTPError
	)
	switch {
	case errors.As(err, &authErr):
		status = http.StatusForbidden
		message = authErr.Message
	case errors.As(err, &conflictErr):
		status = http.StatusConflict
		message = conflictErr.Message
	case errors.As(err, &validationErr):
		status = http.StatusUnprocessableEntity
		message = validationErr.Message
	case errors.As(err, &transientErr):
		status = http.StatusServiceUnavailable
		message = transientErr.Error()
	case errors.As(err, &integrityErr):
		status = http.StatusInternalServerError
		message = integrityErr.Message
	case errors.Is(err, sql.ErrNoRows):
		status = http.StatusNotFound
		message = "not found"
	case errors.As(err, &httpErr):
		status = httpErr.Code
		if m, ok := httpErr.Message.(string); ok {
			message = m
		}
	default:
		c.Logger().Errorf("handler error %s: %+v\n", c.Request().URL.Path, err)
	}

	if err := c.JSON(status, map[string]string{"message": message}); err != nil {
		log.Printf("err returning json error: %+v\n", err)
	}
}

func newError(err error, status int, message string) error {
	e := echo.NewHTTPError(status, message)
	if err != nil {
		e = e.WithInternal(err)
	}
	return e
}
