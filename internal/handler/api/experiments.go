package api

import (
	"context"
	"errors"

	models "Rewind/internal/domain/models"
	"Rewind/internal/service/ratelimit"
	xhttp "Rewind/pkg/http"
	xlogger "Rewind/pkg/logger"

	"github.com/labstack/echo/v4"
)

// ExperimentRunner is the orchestrator surface the handlers need.
type ExperimentRunner interface {
	Run(ctx context.Context, cfg models.ExperimentConfig) (*models.RunExperimentResponse, error)
	Progress(id string) (models.ExperimentProgress, error)
	Result(ctx context.Context, id string) (*models.ExperimentResult, error)
	List(ctx context.Context, limit int) ([]models.ExperimentSummary, error)
	Cancel(id string) error
}

// MarketLookup resolves market metadata.
type MarketLookup interface {
	Metadata(ctx context.Context, slug string) (*models.MarketInfo, error)
}

// ExperimentsHandler exposes experiment submission, progress and results.
type ExperimentsHandler struct {
	logger       *xlogger.Logger
	runner       ExperimentRunner
	markets      MarketLookup
	admission    *ratelimit.Bucket
	defaultModel string
	stream       StreamConfig
}

type HandlerOption func(*ExperimentsHandler)

// WithAdmission throttles run submissions per client IP.
func WithAdmission(b *ratelimit.Bucket) HandlerOption {
	return func(h *ExperimentsHandler) { h.admission = b }
}

func WithDefaultModel(model string) HandlerOption {
	return func(h *ExperimentsHandler) { h.defaultModel = model }
}

func WithStreamConfig(cfg StreamConfig) HandlerOption {
	return func(h *ExperimentsHandler) { h.stream = cfg }
}

func NewExperimentsHandler(logger *xlogger.Logger, runner ExperimentRunner, markets MarketLookup, opts ...HandlerOption) *ExperimentsHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	h := &ExperimentsHandler{
		logger:  logger,
		runner:  runner,
		markets: markets,
		stream:  StreamConfig{},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.stream.normalize()
	return h
}

func (h *ExperimentsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api")
	g.POST("/experiments/run", h.Run)
	g.GET("/experiments", h.List)
	g.GET("/experiments/:id", h.Result)
	g.GET("/experiments/:id/progress", h.Progress)
	g.GET("/experiments/:id/stream", h.Stream)
	g.POST("/experiments/:id/cancel", h.Cancel)
	g.GET("/markets/:slug/metadata", h.MarketMetadata)
	g.GET("/plan", h.Plan)
}

func (h *ExperimentsHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *ExperimentsHandler) Run(c echo.Context) error {
	if h.admission != nil && !h.admission.Allow(c.RealIP()) {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many experiment submissions, retry later"))
	}
	req := &models.RunExperimentRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	cfg, err := req.ToConfig(h.defaultModel)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}

	res, err := h.runner.Run(c.Request().Context(), cfg)
	if err != nil {
		h.logger.Error("run experiment failed", xlogger.String("market", cfg.MarketSlug), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.AcceptedResponse(c, res)
}

func (h *ExperimentsHandler) Progress(c echo.Context) error {
	req := &models.ExperimentIDRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	snap, err := h.runner.Progress(req.ID)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, snap)
}

func (h *ExperimentsHandler) Result(c echo.Context) error {
	req := &models.ExperimentIDRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.runner.Result(c.Request().Context(), req.ID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) && !errors.Is(err, models.ErrNotReady) {
			h.logger.Error("get result failed", xlogger.String("experiment_id", req.ID), xlogger.Error(err))
		}
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *ExperimentsHandler) List(c echo.Context) error {
	req := &models.ListExperimentsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.runner.List(c.Request().Context(), req.Limit)
	if err != nil {
		h.logger.Error("list experiments failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	if rows == nil {
		rows = []models.ExperimentSummary{}
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *ExperimentsHandler) Cancel(c echo.Context) error {
	req := &models.ExperimentIDRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.runner.Cancel(req.ID); err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	h.logger.Info("experiment cancel requested", xlogger.String("experiment_id", req.ID))
	return xhttp.AcceptedResponse(c, map[string]string{"experiment_id": req.ID, "status": "cancelling"})
}
