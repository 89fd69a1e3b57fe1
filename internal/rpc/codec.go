package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Snehask3825/kortex/internal/controller"
	"github.com/Snehask3825/kortex/internal/reasons"
	"github.com/Snehask3825/kortex/pkg/command"
)

// errorDomain tags ErrorInfo details produced by this package
const errorDomain = "kortex"

type handleMessage struct {
	Handle string `json:"handle"`
}

type actionTypeMessage struct {
	Type command.ActionType `json:"type"`
}

type actionsMessage struct {
	Actions []command.Action `json:"actions"`
}

type servoingModeMessage struct {
	Mode command.ServoingMode `json:"mode"`
}

type topicMessage struct {
	Topic string `json:"topic"`
}

// subscribedMessage is the first message of every Subscribe stream
type subscribedMessage struct {
	Subscribed string `json:"subscribed"`
}

// toStruct converts v to a Struct through its JSON encoding.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return structpb.NewStruct(fields)
}

// fromStruct decodes s into v through its JSON encoding.
func fromStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

// toStatus converts a service error to a gRPC status error carrying the
// stable reason as an ErrorInfo detail.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	reason := reasons.Of(err)
	code := codes.Internal
	switch reason {
	case reasons.UnknownAction, reasons.UnknownSequence, reasons.UnknownHandle:
		code = codes.NotFound
	case reasons.EmptySequence, reasons.InvalidAction, reasons.InvalidGripper, reasons.UnknownTopic:
		code = codes.InvalidArgument
	case reasons.ServoingMode:
		code = codes.FailedPrecondition
	case reasons.Subscription:
		code = codes.Unavailable
	default:
		switch {
		case errors.Is(err, controller.ErrClosed):
			code, reason = codes.Unavailable, reasons.ControllerClosed
		case errors.Is(err, context.Canceled):
			code = codes.Canceled
		case errors.Is(err, context.DeadlineExceeded):
			code = codes.DeadlineExceeded
		}
	}

	st := status.New(code, err.Error())
	if reason != "" {
		if detailed, derr := st.WithDetails(&errdetails.ErrorInfo{Reason: reason, Domain: errorDomain}); derr == nil {
			st = detailed
		}
	}
	return st.Err()
}

// RemoteError is a gRPC status returned by a kortex server. It unwraps to
// the sentinel named by its reason.
type RemoteError struct {
	status   *status.Status
	sentinel error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc error (%s): %s", e.status.Code(), e.status.Message())
}

func (e *RemoteError) Unwrap() error {
	return e.sentinel
}

// GRPCStatus lets status.FromError see through RemoteError.
func (e *RemoteError) GRPCStatus() *status.Status {
	return e.status
}

// fromStatus restores the sentinel carried by a status error.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.OK {
		return err
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != errorDomain {
			continue
		}
		if sentinel := reasons.Err(info.GetReason()); sentinel != nil {
			return &RemoteError{status: st, sentinel: sentinel}
		}
		if info.GetReason() == reasons.ControllerClosed {
			return &RemoteError{status: st, sentinel: controller.ErrClosed}
		}
	}
	return err
}
