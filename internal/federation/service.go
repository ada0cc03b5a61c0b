package federation

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/federation-sim/core"
	"github.com/signalsfoundry/federation-sim/internal/logging"
	"github.com/signalsfoundry/federation-sim/model"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "federation.v1.EntityUpdateService"

const (
	publishMethod  = "/" + ServiceName + "/Publish"
	detonateMethod = "/" + ServiceName + "/Detonate"
)

// EntityUpdateServer is the server API for the federation service. Payloads
// are Structs encoded by UpdateToStruct and DetonationToStruct.
type EntityUpdateServer interface {
	Publish(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Detonate(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

// RegisterEntityUpdateServer registers srv on s.
func RegisterEntityUpdateServer(s grpc.ServiceRegistrar, srv EntityUpdateServer) {
	s.RegisterService(&entityUpdateServiceDesc, srv)
}

var entityUpdateServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EntityUpdateServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: publishHandler},
		{MethodName: "Detonate", Handler: detonateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "federation/v1/entity_update.proto",
}

func publishHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EntityUpdateServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: publishMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EntityUpdateServer).Publish(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func detonateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EntityUpdateServer).Detonate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: detonateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EntityUpdateServer).Detonate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Inbox accepts traffic from peers. core.Engine implements it; both calls
// only queue work for the next tick.
type Inbox interface {
	ReceiveUpdate(update model.EntityUpdate) error
	EnqueueDetonation(det model.Detonation) error
}

// Service implements EntityUpdateServer on top of an Inbox.
type Service struct {
	inbox Inbox
	log   logging.Logger
}

// NewService returns a Service feeding inbox.
func NewService(inbox Inbox, log logging.Logger) *Service {
	if log == nil {
		log = logging.Noop()
	}
	return &Service{inbox: inbox, log: log}
}

// Publish queues a peer's entity update.
func (s *Service) Publish(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	log := logging.LoggerFromContext(ctx, s.log)
	update, err := UpdateFromStruct(req)
	if err != nil {
		return nil, ToStatusError(err)
	}
	if err := s.inbox.ReceiveUpdate(update); err != nil {
		log.Warn(ctx, "rejected entity update",
			logging.String("entity_id", update.EntityID),
			logging.Err(err),
		)
		return nil, ToStatusError(err)
	}
	log.Debug(ctx, "queued entity update",
		logging.String("entity_id", update.EntityID),
		logging.String("kind", string(update.Kind)),
	)
	return &emptypb.Empty{}, nil
}

// Detonate queues a detonation against one of this simulator's entities.
func (s *Service) Detonate(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	log := logging.LoggerFromContext(ctx, s.log)
	det, err := DetonationFromStruct(req)
	if err != nil {
		return nil, ToStatusError(err)
	}
	if err := s.inbox.EnqueueDetonation(det); err != nil {
		log.Warn(ctx, "rejected detonation",
			logging.String("target_id", det.TargetID),
			logging.Err(err),
		)
		return nil, ToStatusError(err)
	}
	log.Debug(ctx, "queued detonation",
		logging.String("target_id", det.TargetID),
		logging.String("munition", det.MunitionType),
	)
	return &emptypb.Empty{}, nil
}

// ToStatusError maps federation and engine errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrInvalidPayload),
		errors.Is(err, core.ErrInvalidUpdate),
		errors.Is(err, core.ErrInvalidDetonation):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, core.ErrEntityNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, core.ErrEntityExists):
		return status.Error(codes.AlreadyExists, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
