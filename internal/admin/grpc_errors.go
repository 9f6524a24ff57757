package admin

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/netctrl/core"
)

// ToStatusError maps controller errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, core.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, core.ErrControllerNotFound),
		errors.Is(err, core.ErrPortNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, core.ErrControllerExists):
		return status.Error(codes.AlreadyExists, err.Error())

	case errors.Is(err, core.ErrCapacityExceeded),
		errors.Is(err, core.ErrBufferFull):
		return status.Error(codes.ResourceExhausted, err.Error())

	case errors.Is(err, core.ErrNotResolved),
		errors.Is(err, core.ErrEmpty):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, core.ErrTransportBusy),
		errors.Is(err, core.ErrTransportFail):
		return status.Error(codes.Unavailable, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
