package echo

import e "github.com/labstack/echo/v4"

// RegisterRoutes wires the tasked-step engine's HTTP surface.
func RegisterRoutes(server *e.Echo, stepHandler *StepHandler) {
	server.POST("/api/v1/steps/changed-tiles", stepHandler.CreateChangedTilesStep)
	server.GET("/api/v1/steps/:stepId", stepHandler.GetStep)
	server.POST("/api/v1/steps/:stepId/progress", stepHandler.DeliverProgress)
	server.POST("/api/v1/steps/:stepId/resume", stepHandler.ResumeStep)
}
