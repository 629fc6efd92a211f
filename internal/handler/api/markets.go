package api

import (
	"fmt"
	"time"

	models "Rewind/internal/domain/models"
	"Rewind/internal/usecase"
	xhttp "Rewind/pkg/http"
	xlogger "Rewind/pkg/logger"

	"github.com/labstack/echo/v4"
)

func (h *ExperimentsHandler) MarketMetadata(c echo.Context) error {
	req := &models.MarketMetadataRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	info, err := h.markets.Metadata(c.Request().Context(), req.Slug)
	if err != nil {
		h.logger.Warn("market metadata failed", xlogger.String("slug", req.Slug), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, info)
}

// PlanResponse previews the intervals a run would execute.
type PlanResponse struct {
	Total     int               `json:"total"`
	Intervals []models.Interval `json:"intervals"`
}

func (h *ExperimentsHandler) Plan(c echo.Context) error {
	req := &models.PlanRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	start, ok := xhttp.ParseTime(req.Start)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(fmt.Sprintf("invalid start %q", req.Start)))
	}
	end, ok := xhttp.ParseTime(req.End)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(fmt.Sprintf("invalid end %q", req.End)))
	}
	intervals, err := usecase.Plan(start.UTC(), end.UTC(), time.Duration(req.IntervalMinutes)*time.Minute)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, PlanResponse{Total: len(intervals), Intervals: intervals})
}
