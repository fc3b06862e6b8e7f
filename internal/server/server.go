// Package server exposes the job system over gRPC.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/replydraft/internal/controller"
	"github.com/ChuLiYu/replydraft/internal/jobmanager"
	"github.com/ChuLiYu/replydraft/pkg/types"
)

// Backend is the job system the service exposes. *controller.Controller
// implements it.
type Backend interface {
	Submit(kind types.JobKind, payload any) (types.JobID, error)
	GetStatus(id types.JobID) (types.Job, error)
	Cancel(id types.JobID) (types.Job, error)
	List(filter jobmanager.Filter) []types.Job
}

const serviceName = "replydraft.v1.JobService"

const (
	methodSubmit    = "Submit"
	methodGetStatus = "GetStatus"
	methodCancel    = "Cancel"
	methodList      = "List"
)

func fullMethod(name string) string { return "/" + serviceName + "/" + name }

// Server implements JobService. Requests and responses are
// google.protobuf.Struct values carrying the JSON form of the job model:
//
//	Submit    {kind, payload}        -> {job_id}
//	GetStatus {job_id}               -> Job
//	Cancel    {job_id}               -> Job
//	List      {user_id, state, kind} -> {jobs: [Job]}
type Server struct {
	backend Backend
	logger  *slog.Logger
}

// NewServer creates the service over backend.
func NewServer(backend Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{backend: backend, logger: logger}
}

// NewGRPCServer returns a grpc.Server with the service registered and
// request logging installed.
func NewGRPCServer(backend Backend, logger *slog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	s := NewServer(backend, logger)
	opts = append(opts, grpc.ChainUnaryInterceptor(s.logRequests))
	g := grpc.NewServer(opts...)
	s.Register(g)
	return g
}

// Register adds the service to registrar.
func (s *Server) Register(registrar grpc.ServiceRegistrar) {
	registrar.RegisterService(&serviceDesc, s)
}

// JobService is the server API of the service.
type JobService interface {
	Submit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Cancel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	List(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var _ JobService = (*Server)(nil)

// serviceDesc is written by hand; all messages are structpb.Struct.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*JobService)(nil),
	Methods: []grpc.MethodDesc{
		unary(methodSubmit, (*Server).Submit),
		unary(methodGetStatus, (*Server).GetStatus),
		unary(methodCancel, (*Server).Cancel),
		unary(methodList, (*Server).List),
	},
	Streams: []grpc.StreamDesc{},
}

type unaryCall func(*Server, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(*Server), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(*Server), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Submit registers a job and returns its id without waiting for it.
func (s *Server) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	kind, err := types.ParseJobKind(fields["kind"].GetStringValue())
	if err != nil {
		return nil, toStatus(err)
	}

	var raw []byte
	if p := fields["payload"]; p != nil {
		if raw, err = protojson.Marshal(p); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "payload: %v", err)
		}
	}
	payload, err := types.DecodePayload(kind, raw)
	if err != nil {
		return nil, toStatus(err)
	}

	id, err := s.backend.Submit(kind, payload)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{"job_id": string(id)})
}

// GetStatus returns the current snapshot of a job.
func (s *Server) GetStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := jobID(in)
	if err != nil {
		return nil, err
	}
	job, err := s.backend.GetStatus(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(job)
}

// Cancel cancels a job and returns its snapshot.
func (s *Server) Cancel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := jobID(in)
	if err != nil {
		return nil, err
	}
	job, err := s.backend.Cancel(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(job)
}

// List returns the jobs matching the optional user_id, state and kind.
func (s *Server) List(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	filter := jobmanager.Filter{UserID: fields["user_id"].GetStringValue()}
	if v := fields["state"].GetStringValue(); v != "" {
		st, err := types.ParseJobState(v)
		if err != nil {
			return nil, toStatus(err)
		}
		filter.State = st
	}
	if v := fields["kind"].GetStringValue(); v != "" {
		kind, err := types.ParseJobKind(v)
		if err != nil {
			return nil, toStatus(err)
		}
		filter.Kind = kind
	}

	jobs := s.backend.List(filter)
	if jobs == nil {
		jobs = []types.Job{}
	}
	return encode(struct {
		Jobs []types.Job `json:"jobs"`
	}{jobs})
}

func (s *Server) logRequests(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		s.logger.Warn("rpc failed", "method", info.FullMethod, "code", status.Code(err), "error", err)
	} else {
		s.logger.Debug("rpc served", "method", info.FullMethod, "duration", time.Since(start))
	}
	return resp, err
}

func jobID(in *structpb.Struct) (types.JobID, error) {
	id := in.GetFields()["job_id"].GetStringValue()
	if id == "" {
		return "", status.Error(codes.InvalidArgument, "job_id is required")
	}
	return types.JobID(id), nil
}

// encode converts v to a Struct through its JSON form.
func encode(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return out, nil
}

// decode is the inverse of encode.
func decode(in *structpb.Struct, v any) error {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, types.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, types.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, controller.ErrControllerStopped):
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// fromStatus maps a status error back onto the domain sentinels.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %w", st.Message(), types.ErrValidation)
	case codes.NotFound:
		return fmt.Errorf("%s: %w", st.Message(), types.ErrNotFound)
	}
	return err
}
