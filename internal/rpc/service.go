package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "kortex.v1.ControllerService"

// ControllerServer is the server side of kortex.v1.ControllerService.
// Requests and responses are Structs holding the JSON form of the command
// and notification types.
type ControllerServer interface {
	CreateAction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExecuteAction(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	CreateSequence(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PlaySequence(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ReadAllActions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetServoingMode(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	SendGripperCommand(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	RefreshFeedback(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Subscribe(*structpb.Struct, grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ControllerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateAction", Handler: unaryHandler("CreateAction", ControllerServer.CreateAction)},
		{MethodName: "ExecuteAction", Handler: unaryHandler("ExecuteAction", ControllerServer.ExecuteAction)},
		{MethodName: "CreateSequence", Handler: unaryHandler("CreateSequence", ControllerServer.CreateSequence)},
		{MethodName: "PlaySequence", Handler: unaryHandler("PlaySequence", ControllerServer.PlaySequence)},
		{MethodName: "ReadAllActions", Handler: unaryHandler("ReadAllActions", ControllerServer.ReadAllActions)},
		{MethodName: "SetServoingMode", Handler: unaryHandler("SetServoingMode", ControllerServer.SetServoingMode)},
		{MethodName: "SendGripperCommand", Handler: unaryHandler("SendGripperCommand", ControllerServer.SendGripperCommand)},
		{MethodName: "RefreshFeedback", Handler: unaryHandler("RefreshFeedback", ControllerServer.RefreshFeedback)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "kortex/v1/controller.proto",
}

// Register registers svc on server.
func Register(server grpc.ServiceRegistrar, svc ControllerServer) {
	server.RegisterService(&serviceDesc, svc)
}

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

func unaryHandler[Resp any](name string, call func(ControllerServer, context.Context, *structpb.Struct) (Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		svc := srv.(ControllerServer)
		if interceptor == nil {
			return call(svc, ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod(name),
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return call(svc, ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := &structpb.Struct{}
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(ControllerServer).Subscribe(req, stream)
}
