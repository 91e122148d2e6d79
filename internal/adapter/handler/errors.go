package handler

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/order-pipeline/internal/core/domain"
)

// httpStatus maps service errors. Validation wraps not-found for bad references,
// so it is checked before ErrNotFound.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func grpcError(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrValidation):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicateRequest):
		code = codes.Aborted
	case errors.Is(err, domain.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}
