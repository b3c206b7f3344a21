// Package listener defines the protocol endpoint abstraction the
// supervisor manages, and the concrete HTTP, gRPC, MQTT and SOAP
// listeners behind it.
package listener

import (
	"context"

	"github.com/YASSERRMD/naseejmesh/internal/message"
	"github.com/YASSERRMD/naseejmesh/internal/store"
)

// Listener is one long-running protocol endpoint.
//
// Start binds the endpoint and begins accepting work, returning once
// the bind has either succeeded or failed — serving continues in the
// background. Stop stops accepting new work and lets in-flight work
// finish until ctx's deadline, then forces exit.
type Listener interface {
	ID() string
	Protocol() message.Protocol
	Addr() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Factory builds a listener for a spec. The supervisor owns the
// returned listener exclusively; listeners receive only immutable
// references (router handle, gate, engine) and never a reference back
// to the supervisor.
type Factory func(spec store.ListenerSpec) (Listener, error)
