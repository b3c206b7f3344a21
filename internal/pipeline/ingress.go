package pipeline

import (
	"context"

	"go.uber.org/zap"

	gwerr "github.com/YASSERRMD/naseejmesh/internal/errors"
	"github.com/YASSERRMD/naseejmesh/internal/logging"
	"github.com/YASSERRMD/naseejmesh/internal/message"
)

// MQTTHandler adapts the pipeline to MQTT ingress. MQTT has no
// response path to the publisher; the dispatch result is logged and
// dropped.
func (p *Pipeline) MQTTHandler() func(ctx *message.Context) {
	return func(ctx *message.Context) {
		defer ctx.Release()

		_, err := p.Process(Request{
			Ctx:       ctx,
			ClientKey: mqttClientKey(ctx),
		})
		if err != nil {
			ge := gwerr.AsGatewayError(err)
			logging.Warn("mqtt message dropped",
				zap.String("trace_id", ctx.TraceID),
				zap.String("topic", ctx.Destination),
				zap.String("category", string(ge.Category)),
				zap.Error(ge),
			)
			return
		}
		logging.Debug("mqtt message dispatched",
			zap.String("trace_id", ctx.TraceID),
			zap.String("topic", ctx.Destination),
		)
	}
}

func mqttClientKey(ctx *message.Context) string {
	if ctx.Source != "" {
		return "mqtt:" + ctx.Source
	}
	return "mqtt:" + ctx.Destination
}

// GRPCHandler adapts the pipeline to the dynamic gRPC service: the
// response context carries the upstream's JSON body, which the service
// re-encodes against the output descriptor.
func (p *Pipeline) GRPCHandler() func(ctx context.Context, msg *message.Context) (*message.Context, error) {
	return func(ctx context.Context, msg *message.Context) (*message.Context, error) {
		resp, err := p.Process(Request{
			Parent:     ctx,
			Ctx:        msg,
			AuthHeader: msg.Meta("authorization"),
			ClientKey:  "grpc:" + msg.Destination,
		})
		if err != nil {
			return nil, err
		}

		out := msg.Clone()
		out.SetPayload(resp.Body)
		out.ContentType = "application/json"
		return out, nil
	}
}
