package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"

	"github.com/YASSERRMD/naseejmesh/internal/adapter/grpcproxy"
	"github.com/YASSERRMD/naseejmesh/internal/message"
)

// GRPCListener serves the dynamic descriptor-pool-backed gRPC service.
type GRPCListener struct {
	id     string
	addr   string
	server *grpc.Server
	ln     net.Listener
}

// NewGRPCListener builds a gRPC listener from its protocol config
// document. Descriptor sets are loaded here; a bad descriptor fails
// the listener at start.
func NewGRPCListener(id, addr string, doc json.RawMessage, handler grpcproxy.Handler) (*GRPCListener, error) {
	cfg, err := grpcproxy.ParseConfig(doc)
	if err != nil {
		return nil, err
	}

	svc, err := grpcproxy.NewService(cfg, handler)
	if err != nil {
		return nil, fmt.Errorf("grpc listener %s: %w", id, err)
	}

	opts := svc.ServerOptions()
	if cfg.MaxMessageSize > 0 {
		opts = append(opts,
			grpc.MaxRecvMsgSize(cfg.MaxMessageSize),
			grpc.MaxSendMsgSize(cfg.MaxMessageSize),
		)
	}

	return &GRPCListener{
		id:     id,
		addr:   addr,
		server: grpc.NewServer(opts...),
	}, nil
}

func (g *GRPCListener) ID() string                 { return g.id }
func (g *GRPCListener) Protocol() message.Protocol { return message.ProtocolGRPC }
func (g *GRPCListener) Addr() string               { return g.addr }

// Start binds the socket and serves in the background.
func (g *GRPCListener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("grpc listener %s: listen on %s: %w", g.id, g.addr, err)
	}
	g.ln = ln

	errCh := make(chan error, 1)
	go func() {
		if err := g.server.Serve(ln); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop drains gracefully until ctx's deadline, then hard-stops.
func (g *GRPCListener) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		g.server.Stop()
		return ctx.Err()
	}
}
