package listener

import (
	"fmt"
	"net/http"

	"github.com/YASSERRMD/naseejmesh/internal/adapter/grpcproxy"
	"github.com/YASSERRMD/naseejmesh/internal/adapter/mqtt"
	"github.com/YASSERRMD/naseejmesh/internal/message"
	"github.com/YASSERRMD/naseejmesh/internal/store"
)

// Handlers are the per-protocol ingress entry points the listeners
// feed. They are immutable references into the pipeline; listeners
// never hold supervisor state.
type Handlers struct {
	HTTP http.Handler
	SOAP http.Handler
	MQTT mqtt.Handler
	GRPC grpcproxy.Handler
}

// NewFactory returns the factory the supervisor uses to build
// listeners from specs.
func NewFactory(h Handlers) Factory {
	return func(spec store.ListenerSpec) (Listener, error) {
		switch spec.Protocol {
		case message.ProtocolHTTP:
			cfg, err := ParseHTTPConfig(spec.Config)
			if err != nil {
				return nil, err
			}
			return NewHTTPListener(spec.ID, message.ProtocolHTTP, spec.Addr(), cfg, h.HTTP)

		case message.ProtocolSOAP:
			// SOAP rides the HTTP transport with its own handler.
			cfg, err := ParseHTTPConfig(spec.Config)
			if err != nil {
				return nil, err
			}
			return NewHTTPListener(spec.ID, message.ProtocolSOAP, spec.Addr(), cfg, h.SOAP)

		case message.ProtocolMQTT:
			return NewMQTTListener(spec.ID, spec.Addr(), spec.Config, h.MQTT)

		case message.ProtocolGRPC:
			return NewGRPCListener(spec.ID, spec.Addr(), spec.Config, h.GRPC)

		default:
			return nil, fmt.Errorf("listener %s: unsupported protocol %q", spec.ID, spec.Protocol)
		}
	}
}
