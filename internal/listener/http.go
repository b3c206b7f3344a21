package listener

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/YASSERRMD/naseejmesh/internal/message"
)

// HTTPConfig is the protocol-specific document for HTTP (and SOAP)
// listeners. When TLS is configured, HTTP/2 is negotiated via ALPN on
// the same port.
type HTTPConfig struct {
	ReadTimeoutSecs  int    `json:"read_timeout_secs,omitempty"`
	WriteTimeoutSecs int    `json:"write_timeout_secs,omitempty"`
	IdleTimeoutSecs  int    `json:"idle_timeout_secs,omitempty"`
	TLSCertFile      string `json:"tls_cert_file,omitempty"`
	TLSKeyFile       string `json:"tls_key_file,omitempty"`
}

// ParseHTTPConfig decodes a listener's protocol config document.
func ParseHTTPConfig(doc json.RawMessage) (HTTPConfig, error) {
	var cfg HTTPConfig
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &cfg); err != nil {
			return cfg, fmt.Errorf("http listener: decode config: %w", err)
		}
	}
	return cfg, nil
}

// HTTPListener serves an http.Handler on one address.
type HTTPListener struct {
	id       string
	protocol message.Protocol
	addr     string
	server   *http.Server
	tlsCfg   *tls.Config
	ln       net.Listener
}

// NewHTTPListener builds an HTTP listener. protocol distinguishes the
// plain HTTP endpoint from the SOAP endpoint sharing this transport.
func NewHTTPListener(id string, protocol message.Protocol, addr string, cfg HTTPConfig, handler http.Handler) (*HTTPListener, error) {
	h := &HTTPListener{id: id, protocol: protocol, addr: addr}

	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("http listener %s: load TLS keypair: %w", id, err)
		}
		h.tlsCfg = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
			NextProtos:   []string{"h2", "http/1.1"},
		}
	}

	readTimeout := durationOr(cfg.ReadTimeoutSecs, 30*time.Second)
	writeTimeout := durationOr(cfg.WriteTimeoutSecs, 30*time.Second)
	idleTimeout := durationOr(cfg.IdleTimeoutSecs, 60*time.Second)

	h.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
		TLSConfig:    h.tlsCfg,
	}
	return h, nil
}

func durationOr(secs int, fallback time.Duration) time.Duration {
	if secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func (h *HTTPListener) ID() string                 { return h.id }
func (h *HTTPListener) Protocol() message.Protocol { return h.protocol }
func (h *HTTPListener) Addr() string               { return h.addr }

// Start binds the socket and serves in the background. A bind failure
// is returned immediately; serve errors after a successful bind
// surface within the startup grace window.
func (h *HTTPListener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("http listener %s: listen on %s: %w", h.id, h.addr, err)
	}
	h.ln = ln

	errCh := make(chan error, 1)
	go func() {
		var serveErr error
		if h.tlsCfg != nil {
			// ServeTLS wires HTTP/2 into the ALPN negotiation; the
			// certificates come from TLSConfig.
			serveErr = h.server.ServeTLS(h.ln, "", "")
		} else {
			serveErr = h.server.Serve(h.ln)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			errCh <- serveErr
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop drains in-flight requests until ctx's deadline, then forces the
// server closed.
func (h *HTTPListener) Stop(ctx context.Context) error {
	if err := h.server.Shutdown(ctx); err != nil {
		h.server.Close()
		return err
	}
	return nil
}
