package grpcstore

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/faceguard/artifact"
	"xdao.co/faceguard/cidutil"
	"xdao.co/faceguard/storage"
)

// Server exposes a storage.Store over the ArtifactStore service. Deposits
// that do not decode as valid artifacts are refused.
type Server struct {
	UnimplementedArtifactStoreServer
	Store  storage.Store
	Logger *slog.Logger
}

func (s *Server) Deposit(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.Unavailable, "missing store")
	}
	b := in.GetValue()
	a, err := artifact.Unmarshal(b)
	if err != nil {
		s.logger().WarnContext(ctx, "deposit refused", "err", err)
		return nil, status.Error(codes.FailedPrecondition, storage.ErrRejected.Error()+": "+err.Error())
	}
	expected, err := cidutil.ContentID(b)
	if err != nil {
		return nil, status.Error(codes.Internal, "cid computation failed")
	}
	id, err := s.Store.Put(b)
	if err != nil {
		return nil, mapErr(err)
	}
	if id != expected {
		return nil, status.Error(codes.DataLoss, storage.ErrCIDMismatch.Error())
	}
	s.logger().InfoContext(ctx, "artifact deposited",
		"cid", id.String(),
		"owner", a.Receipt.Owner,
		"level", a.Receipt.ProtectionLevel)
	return wrapperspb.String(id.String()), nil
}

func (s *Server) Fetch(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.Unavailable, "missing store")
	}
	id, err := cidutil.Parse(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, storage.ErrInvalidCID.Error())
	}
	b, err := s.Store.Get(id)
	if err != nil {
		return nil, mapErr(err)
	}
	got, err := cidutil.ContentID(b)
	if err != nil {
		return nil, status.Error(codes.Internal, "cid computation failed")
	}
	if got != id {
		return nil, status.Error(codes.DataLoss, storage.ErrCIDMismatch.Error())
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) Has(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.Unavailable, "missing store")
	}
	id, err := cidutil.Parse(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, storage.ErrInvalidCID.Error())
	}
	return wrapperspb.Bool(s.Store.Has(id)), nil
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s.Logger
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, storage.ErrInvalidCID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, storage.ErrCIDMismatch):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, storage.ErrImmutable):
		return status.Error(codes.AlreadyExists, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
