package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	stepapp "github.com/here-xyz/tasked-step-engine/internal/application/step"
	domaintask "github.com/here-xyz/tasked-step-engine/internal/domain/task"
	"github.com/here-xyz/tasked-step-engine/internal/infrastructure/repository"
)

// StepHandler exposes the tasked-step engine over HTTP, the same shape
// ImportHandler exposes StartImportUsersFromJSON: bind request, call the
// use case, map its errors onto response codes.
type StepHandler struct {
	service *stepapp.Service
}

// NewStepHandler builds a StepHandler around service.
func NewStepHandler(service *stepapp.Service) *StepHandler {
	return &StepHandler{service: service}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

// CreateChangedTilesStep handles POST /api/v1/steps/changed-tiles.
func (h *StepHandler) CreateChangedTilesStep(c echo.Context) error {
	var req stepapp.CreateChangedTilesStepRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "bad_request",
			Message: "invalid request body",
		}})
	}

	result, err := h.service.CreateChangedTilesStep(c.Request().Context(), req, c.Request().Header.Get("Authorization"))
	if err != nil {
		return mapStepError(c, err)
	}

	return c.JSON(http.StatusAccepted, apiResponse{Data: result})
}

type progressEventRequest struct {
	TaskID       int64 `json:"taskId"`
	ByteCount    int64 `json:"byteCount"`
	FeatureCount int64 `json:"featureCount"`
	FileCount    int32 `json:"fileCount"`
}

// DeliverProgress handles POST /api/v1/steps/:stepId/progress, the
// webhook transport standing in for the database-to-engine async
// completion notification.
func (h *StepHandler) DeliverProgress(c echo.Context) error {
	stepID := domaintask.StepID(c.Param("stepId"))

	var req progressEventRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "bad_request",
			Message: "invalid request body",
		}})
	}

	event := domaintask.ProgressEvent{
		TaskID:       req.TaskID,
		ByteCount:    req.ByteCount,
		FeatureCount: req.FeatureCount,
		FileCount:    req.FileCount,
	}

	completed, err := h.service.DeliverProgress(c.Request().Context(), stepID, event)
	if err != nil {
		return mapStepError(c, err)
	}

	return c.JSON(http.StatusOK, apiResponse{Data: map[string]bool{"completed": completed}})
}

// ResumeStep handles POST /api/v1/steps/:stepId/resume, re-entering a
// RUNNING step's Execute(ctx, true) path to dispatch rows still unstarted
// without re-creating any task rows. Rows already started are not
// re-dispatched.
func (h *StepHandler) ResumeStep(c echo.Context) error {
	stepID := domaintask.StepID(c.Param("stepId"))

	result, err := h.service.ResumeStep(c.Request().Context(), stepID)
	if err != nil {
		return mapStepError(c, err)
	}

	return c.JSON(http.StatusOK, apiResponse{Data: result})
}

// GetStep handles GET /api/v1/steps/:stepId.
func (h *StepHandler) GetStep(c echo.Context) error {
	stepID := domaintask.StepID(c.Param("stepId"))

	row, err := h.service.GetStep(c.Request().Context(), stepID)
	if err != nil {
		if errors.Is(err, repository.ErrStepNotFound) {
			return c.JSON(http.StatusNotFound, apiResponse{Error: &errorBody{
				Code:    "not_found",
				Message: "step not found",
			}})
		}
		return c.JSON(http.StatusInternalServerError, apiResponse{Error: &errorBody{
			Code:    "internal_error",
			Message: "failed to load step",
		}})
	}

	return c.JSON(http.StatusOK, apiResponse{Data: row})
}

func mapStepError(c echo.Context, err error) error {
	kind, ok := domaintask.KindOf(err)
	if !ok {
		return c.JSON(http.StatusInternalServerError, apiResponse{Error: &errorBody{
			Code:    "internal_error",
			Message: "unexpected failure",
		}})
	}

	switch kind {
	case domaintask.KindValidation:
		return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{Code: "validation", Message: err.Error()}})
	case domaintask.KindResourceClaimRejected:
		return c.JSON(http.StatusTooManyRequests, apiResponse{Error: &errorBody{Code: "resource_claim_rejected", Message: err.Error()}})
	case domaintask.KindTransientDB:
		return c.JSON(http.StatusServiceUnavailable, apiResponse{Error: &errorBody{Code: "transient_db", Message: err.Error()}})
	case domaintask.KindTaskQueryBuild:
		return c.JSON(http.StatusInternalServerError, apiResponse{Error: &errorBody{Code: "task_query_build", Message: err.Error()}})
	case domaintask.KindAsyncDeliveryAnomaly:
		return c.JSON(http.StatusConflict, apiResponse{Error: &errorBody{Code: "async_delivery_anomaly", Message: err.Error()}})
	default:
		return c.JSON(http.StatusInternalServerError, apiResponse{Error: &errorBody{Code: "internal_error", Message: err.Error()}})
	}
}
