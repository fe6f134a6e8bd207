package middleware

import "github.com/labstack/echo/v4"

// NoStore marks responses as uncacheable.  Every route that returns tokens,
// enrollment secrets or clinical data goes through it.
func NoStore() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			return next(c)
		}
	}
}
