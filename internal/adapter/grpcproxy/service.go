package grpcproxy

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	gwerr "github.com/YASSERRMD/naseejmesh/internal/errors"
	"github.com/YASSERRMD/naseejmesh/internal/message"
	"github.com/YASSERRMD/naseejmesh/internal/tracing"
)

// Config is the protocol-specific document carried by a gRPC listener
// spec: one or more base64-encoded FileDescriptorSet documents.
type Config struct {
	DescriptorSets []string `json:"descriptor_sets"`
	MaxMessageSize int      `json:"max_message_size,omitempty"`
}

// ParseConfig decodes a listener's protocol config document.
func ParseConfig(doc json.RawMessage) (Config, error) {
	var cfg Config
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &cfg); err != nil {
			return cfg, fmt.Errorf("grpcproxy: decode config: %w", err)
		}
	}
	return cfg, nil
}

// Handler processes one context and returns the response context; the
// response payload must be JSON matching the method's output message.
// ctx is the stream's cancellation context.
type Handler func(ctx context.Context, msg *message.Context) (*message.Context, error)

// Service is a single dynamic gRPC service: every method of every
// registered descriptor is served through one unknown-service handler
// without generated stubs.
type Service struct {
	transcoder *Transcoder
	handler    Handler
}

// NewService builds a dynamic service from config. Descriptor sets are
// loaded at startup; a bad descriptor document is fatal.
func NewService(cfg Config, handler Handler) (*Service, error) {
	t := NewTranscoder()
	for i, enc := range cfg.DescriptorSets {
		if err := t.LoadDescriptorSetBase64(enc); err != nil {
			return nil, fmt.Errorf("descriptor set %d: %w", i, err)
		}
	}
	return &Service{transcoder: t, handler: handler}, nil
}

// Transcoder exposes the descriptor pool.
func (s *Service) Transcoder() *Transcoder {
	return s.transcoder
}

// ServerOptions returns the options that route every unknown method
// into this service with the raw pass-through codec.
func (s *Service) ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ForceServerCodec(rawCodec{}),
		grpc.UnknownServiceHandler(s.handleStream),
	}
}

// handleStream serves one unary call: decode the request against the
// input descriptor, hand the JSON context to the pipeline, and encode
// the response against the output descriptor.
func (s *Service) handleStream(_ interface{}, stream grpc.ServerStream) error {
	fullMethod, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Error(codes.Internal, "no method in stream")
	}

	m, ok := s.transcoder.ResolveMethod(fullMethod)
	if !ok {
		return status.Errorf(codes.Unimplemented, "method %s not in descriptor pool", fullMethod)
	}
	if m.ClientStream || m.ServerStream {
		return status.Errorf(codes.Unimplemented, "streaming method %s not supported", fullMethod)
	}

	var frame rawFrame
	if err := stream.RecvMsg(&frame); err != nil {
		return status.Errorf(codes.InvalidArgument, "receive: %v", err)
	}

	jsonPayload, err := s.transcoder.ProtobufToJSON(frame.data, m.Input)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}

	msg := message.New(message.ProtocolGRPC, fullMethod, jsonPayload)
	msg.ContentType = "application/json"
	msg.Method = "POST"
	msg.SetMeta("grpc.input_type", string(m.Input.FullName()))
	msg.SetMeta("grpc.output_type", string(m.Output.FullName()))
	defer msg.Release()

	if md, ok := metadata.FromIncomingContext(stream.Context()); ok {
		if vals := md.Get("traceparent"); len(vals) > 0 {
			if traceID, spanID, ok := tracing.ParseTraceparent(vals[0]); ok {
				msg.TraceID = traceID
				msg.ParentSpanID = spanID
			}
		}
		if vals := md.Get("authorization"); len(vals) > 0 {
			msg.SetMeta("authorization", vals[0])
		}
	}

	resp, err := s.handler(stream.Context(), msg)
	if err != nil {
		return gatewayErrorToStatus(err)
	}
	defer resp.Release()

	respProto, err := s.transcoder.JSONToProtobuf(resp.Payload.Bytes(), m.Output)
	if err != nil {
		return status.Errorf(codes.Internal, "encode response: %v", err)
	}

	stream.SetTrailer(metadata.Pairs("traceparent", tracing.FormatTraceparent(msg.TraceID, msg.SpanID)))
	return stream.SendMsg(&rawFrame{data: respProto})
}

// gatewayErrorToStatus maps the pipeline's error taxonomy onto gRPC
// status codes.
func gatewayErrorToStatus(err error) error {
	ge := gwerr.AsGatewayError(err)
	var code codes.Code
	switch ge.Code {
	case 404:
		code = codes.NotFound
	case 405:
		code = codes.InvalidArgument
	case 400, 413:
		code = codes.InvalidArgument
	case 401:
		code = codes.Unauthenticated
	case 403:
		code = codes.PermissionDenied
	case 429:
		code = codes.ResourceExhausted
	case 502, 503:
		code = codes.Unavailable
	case 504:
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.Error(code, ge.Message)
}
