package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Status    int    `json:"status"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorEnvelope wraps ErrorBody as {"error": {...}}.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// HTTPErrorHandler renders every error returned by a handler as an
// ErrorEnvelope. Server errors are logged and replaced by a generic message.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		message := http.StatusText(status)

		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			if he.Internal != nil && status >= 500 {
				err = he.Internal
			}
			switch m := he.Message.(type) {
			case string:
				message = m
			case error:
				message = m.Error()
			case nil:
				message = http.StatusText(status)
			default:
				message = fmt.Sprintf("%v", m)
			}
		}

		rid, _ := c.Get("request_id").(string)
		if status >= 500 {
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
			message = http.StatusText(status)
		}

		body := ErrorEnvelope{Error: ErrorBody{Status: status, Message: message, RequestID: rid}}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			logger.Error().Err(werr).Str("request_id", rid).Msg("write error response")
		}
	}
}
