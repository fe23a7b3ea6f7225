package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrorHandler renders every error as {"error": ..., "request_id": ...}.
// A map message on an HTTPError is merged into the body so handlers can
// attach structured details such as missing_fields.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		body := map[string]interface{}{}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			switch m := he.Message.(type) {
			case map[string]interface{}:
				for k, v := range m {
					body[k] = v
				}
			case string:
				body["error"] = m
			case error:
				body["error"] = m.Error()
			default:
				body["error"] = http.StatusText(code)
			}
		} else {
			logger.Error().Err(err).Str("request_id", requestID(c)).Msg("unhandled error")
			body["error"] = "internal server error"
		}
		if _, ok := body["error"]; !ok {
			body["error"] = http.StatusText(code)
		}
		if rid := requestID(c); rid != "" {
			body["request_id"] = rid
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, body)
	}
}
