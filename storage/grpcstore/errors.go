package grpcstore

import (
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"xdao.co/faceguard/storage"
)

func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.NotFound:
		return storage.ErrNotFound
	case codes.InvalidArgument:
		return storage.ErrInvalidCID
	case codes.DataLoss:
		return storage.ErrCIDMismatch
	case codes.AlreadyExists:
		return storage.ErrImmutable
	case codes.FailedPrecondition:
		if reason, ok := strings.CutPrefix(st.Message(), storage.ErrRejected.Error()+": "); ok {
			return fmt.Errorf("%w: %s", storage.ErrRejected, reason)
		}
		return err
	default:
		return err
	}
}
