// Package bootstrap wires the HTTP server together, the same role
// bootstrap.NewHTTPServer plays for the teacher: one function that
// constructs every repository/service/handler and registers routes.
package bootstrap

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	stepapp "github.com/here-xyz/tasked-step-engine/internal/application/step"
	httpecho "github.com/here-xyz/tasked-step-engine/internal/interfaces/http/echo"
)

// NewHTTPServer builds the echo.Echo server for the tasked-step engine.
func NewHTTPServer(service *stepapp.Service) *echo.Echo {
	server := echo.New()
	server.HideBanner = true

	server.Use(middleware.Recover())
	server.Use(middleware.RequestID())
	server.Use(middleware.BodyLimit("10M"))

	stepHandler := httpecho.NewStepHandler(service)
	httpecho.RegisterRoutes(server, stepHandler)

	server.GET("/healthz", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})

	return server
}
