package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/rehab/wardshell/internal/bridge"
)

// PanicMessage is the failure reason returned to the caller of a channel
// whose handler panicked.
const PanicMessage = "internal host error"

// Recovery keeps the host serving after a panicking IPC handler. The caller
// gets a 500 carrying a bridge failure result, so a gate on the other side
// decodes it like any other rejected call.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				var stack [4096]byte
				n := runtime.Stack(stack[:], false)

				logger.Error().
					Str("request_id", RequestIDFrom(c)).
					Str("channel", c.Param("channel")).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(stack[:n])).
					Msg("ipc handler panicked")

				if c.Response().Committed {
					err = nil
					return
				}
				err = c.JSON(http.StatusInternalServerError, bridge.FailMessage(PanicMessage, 0))
			}()
			return next(c)
		}
	}
}
