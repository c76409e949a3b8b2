package middleware

import (
	applogger "SE3Price/pkg/logger"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// Recover turns a handler panic into an error log plus echo's 500 response.
func Recover(l *applogger.Logger) echo.MiddlewareFunc {
	if l == nil {
		l = applogger.Nop()
	}
	return echomw.RecoverWithConfig(echomw.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			l.Error("panic in http handler",
				applogger.Error(err),
				applogger.String("route", c.Path()),
				applogger.String("stack", string(stack)),
			)
			return err
		},
	})
}

// RequestLogging logs every request at debug level, skipping metrics scrapes.
func RequestLogging(l *applogger.Logger, metricsPath string) echo.MiddlewareFunc {
	if l == nil {
		l = applogger.Nop()
	}
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return metricsPath != "" && c.Path() == metricsPath
		},
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogValuesFunc: func(_ echo.Context, v echomw.RequestLoggerValues) error {
			l.Debug("http request",
				applogger.String("method", v.Method),
				applogger.String("uri", v.URI),
				applogger.String("remote", v.RemoteIP),
				applogger.Int("status", v.Status),
				applogger.Duration("duration_ms", v.Latency),
			)
			return nil
		},
	})
}
