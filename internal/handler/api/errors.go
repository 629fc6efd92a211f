package api

import (
	"errors"

	models "Rewind/internal/domain/models"
	xhttp "Rewind/pkg/http"
)

// toAppError maps the domain error taxonomy onto HTTP errors.
func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, models.ErrInvalidConfiguration):
		return xhttp.BadRequestError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrNotFound):
		return xhttp.NotFoundError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrNotReady):
		return xhttp.NotReadyError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrFinished):
		return xhttp.ConflictError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrServiceUnavailable):
		return xhttp.ServiceUnavailableError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrValidationFailure):
		return xhttp.BadGatewayError(err.Error()).WithError(err)
	default:
		return xhttp.InternalError("Something went wrong").WithError(err)
	}
}
