// Package server implements the liveedit HTTP and gRPC transports
package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jonny5532/wagtail-liveedit/pkg/liveedit"
	"github.com/jonny5532/wagtail-liveedit/pkg/overlay"
	"github.com/jonny5532/wagtail-liveedit/pkg/permission"
	"github.com/jonny5532/wagtail-liveedit/pkg/schema"
)

// LiveEditServiceName is the full gRPC service name.
const LiveEditServiceName = "liveedit.v1.LiveEdit"

// LiveEditServer is the gRPC surface of the service. Messages are
// structpb.Struct values keyed like the HTTP form fields.
type LiveEditServer interface {
	MoveBlock(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteBlock(context.Context, *structpb.Struct) (*structpb.Struct, error)
	InsertBlocks(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBlock(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Health(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(LiveEditServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodDesc {
	fullMethod := "/" + LiveEditServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LiveEditServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(LiveEditServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// LiveEditServiceDesc describes the service for grpc.Server.RegisterService.
var LiveEditServiceDesc = grpc.ServiceDesc{
	ServiceName: LiveEditServiceName,
	HandlerType: (*LiveEditServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("MoveBlock", LiveEditServer.MoveBlock),
		unaryHandler("DeleteBlock", LiveEditServer.DeleteBlock),
		unaryHandler("InsertBlocks", LiveEditServer.InsertBlocks),
		unaryHandler("GetBlock", LiveEditServer.GetBlock),
		unaryHandler("Health", LiveEditServer.Health),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "liveedit/v1/liveedit.proto",
}

// RegisterLiveEditServer registers srv with s.
func RegisterLiveEditServer(s grpc.ServiceRegistrar, srv LiveEditServer) {
	s.RegisterService(&LiveEditServiceDesc, srv)
}

// LiveEditClient calls the service over a client connection.
type LiveEditClient struct {
	cc grpc.ClientConnInterface
}

// NewLiveEditClient creates a client.
func NewLiveEditClient(cc grpc.ClientConnInterface) *LiveEditClient {
	return &LiveEditClient{cc: cc}
}

func (c *LiveEditClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+LiveEditServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// MoveBlock moves a block one place up or down.
func (c *LiveEditClient) MoveBlock(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "MoveBlock", in, opts...)
}

// DeleteBlock removes a block.
func (c *LiveEditClient) DeleteBlock(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "DeleteBlock", in, opts...)
}

// InsertBlocks inserts blocks after an anchor.
func (c *LiveEditClient) InsertBlocks(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "InsertBlocks", in, opts...)
}

// GetBlock describes a block.
func (c *LiveEditClient) GetBlock(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetBlock", in, opts...)
}

// Health reports server status.
func (c *LiveEditClient) Health(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Health", in, opts...)
}

// GrpcServer implements LiveEditServer on top of the service.
type GrpcServer struct {
	svc       *liveedit.Service
	auth      Authenticator
	startTime time.Time
}

// NewGrpcServer creates the gRPC service implementation.
func NewGrpcServer(svc *liveedit.Service, auth Authenticator) *GrpcServer {
	return &GrpcServer{svc: svc, auth: auth, startTime: time.Now()}
}

// authenticate reads credentials from the username and password metadata.
func (s *GrpcServer) authenticate(ctx context.Context) (*permission.User, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	username, password := first(md, "username"), first(md, "password")
	if username == "" || s.auth == nil {
		return nil, status.Error(codes.Unauthenticated, "credentials required")
	}
	user, ok := s.auth.Authenticate(username, password)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "invalid credentials")
	}
	return user, nil
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// statusError maps service errors to gRPC status codes.
func statusError(err error) error {
	var verr *schema.ValidationError
	switch {
	case errors.As(err, &verr):
		return status.Error(codes.InvalidArgument, verr.Error())
	case errors.Is(err, liveedit.ErrMalformed):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, liveedit.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, liveedit.ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, "permission denied")
	}
	return status.Errorf(codes.Internal, "internal error: %v", err)
}

func target(in *structpb.Struct) (overlay.Target, error) {
	f := in.GetFields()
	t := overlay.Target{
		ContentTypeID: int64(f["content_type_id"].GetNumberValue()),
		ObjectID:      int64(f["object_id"].GetNumberValue()),
		ObjectField:   f["object_field"].GetStringValue(),
	}
	if t.ContentTypeID == 0 || t.ObjectID == 0 || t.ObjectField == "" {
		return t, status.Error(codes.InvalidArgument, "content_type_id, object_id and object_field are required")
	}
	return t, nil
}

func stringField(in *structpb.Struct, name string) string {
	return in.GetFields()[name].GetStringValue()
}

func requireID(in *structpb.Struct) (string, error) {
	id := stringField(in, "id")
	if id == "" {
		return "", status.Error(codes.InvalidArgument, "id is required")
	}
	return id, nil
}

func result(res *liveedit.Result) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"saved":      res.Strategy != "",
		"strategy":   string(res.Strategy),
		"jump_to_id": res.JumpToID,
	})
}

// MoveBlock applies move_up or move_down.
func (s *GrpcServer) MoveBlock(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	user, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	t, err := target(in)
	if err != nil {
		return nil, err
	}
	id, err := requireID(in)
	if err != nil {
		return nil, err
	}

	res, err := s.svc.Action(ctx, user, &overlay.ActionRequest{
		ContentTypeID: t.ContentTypeID,
		ObjectID:      t.ObjectID,
		ObjectField:   t.ObjectField,
		ID:            id,
		Action:        stringField(in, "action"),
	})
	if err != nil {
		return nil, statusError(err)
	}
	return result(res)
}

// DeleteBlock removes a block.
func (s *GrpcServer) DeleteBlock(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	user, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	t, err := target(in)
	if err != nil {
		return nil, err
	}
	id, err := requireID(in)
	if err != nil {
		return nil, err
	}

	res, err := s.svc.DeleteBlock(ctx, user, &overlay.EditRequest{
		ContentTypeID: t.ContentTypeID,
		ObjectID:      t.ObjectID,
		ObjectField:   t.ObjectField,
		ID:            id,
	})
	if err != nil {
		return nil, statusError(err)
	}
	return result(res)
}

// InsertBlocks inserts the "blocks" list after the "anchor" block, or at
// the head of the field.
func (s *GrpcServer) InsertBlocks(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	user, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	t, err := target(in)
	if err != nil {
		return nil, err
	}
	list := in.GetFields()["blocks"].GetListValue()
	if list == nil {
		return nil, status.Error(codes.InvalidArgument, "blocks must be a list")
	}
	data, err := json.Marshal(list.AsSlice())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "blocks: %v", err)
	}

	res, err := s.svc.InsertBlocks(ctx, user, t, stringField(in, "anchor"), data)
	if err != nil {
		return nil, statusError(err)
	}
	return result(res)
}

// GetBlock describes a block as the next edit would see it.
func (s *GrpcServer) GetBlock(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	user, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	t, err := target(in)
	if err != nil {
		return nil, err
	}
	id, err := requireID(in)
	if err != nil {
		return nil, err
	}

	info, err := s.svc.Block(ctx, user, t, id)
	if err != nil {
		return nil, statusError(err)
	}
	// Round-trip through JSON so every value is a structpb-compatible type
	raw, err := json.Marshal(info.Value)
	if err != nil {
		return nil, statusError(err)
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, statusError(err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"id":        info.ID,
		"type":      info.Type,
		"value":     value,
		"parent_id": info.ParentID,
		"index":     info.Index,
		"siblings":  info.Siblings,
	})
}

// Health reports server status.
func (s *GrpcServer) Health(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"status":         "healthy",
		"service":        "liveedit",
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"started_at":     s.startTime.UTC().Format(time.RFC3339),
	})
}
