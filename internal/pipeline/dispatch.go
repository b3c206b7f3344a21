package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	gwerr "github.com/YASSERRMD/naseejmesh/internal/errors"
	"github.com/YASSERRMD/naseejmesh/internal/message"
	"github.com/YASSERRMD/naseejmesh/internal/router"
	"github.com/YASSERRMD/naseejmesh/internal/tracing"
)

// Dispatcher forwards contexts to HTTP upstreams. Failures are
// classified as connection, status or timeout.
type Dispatcher struct {
	client *http.Client

	// MaxResponseSize bounds how much of an upstream response is read.
	MaxResponseSize int64
}

// NewDispatcher creates a dispatcher with a pooled transport. The
// per-route timeout is applied per request, not on the client.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        128,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		MaxResponseSize: 16 << 20,
	}
}

// Dispatch sends the context's payload to the route's upstream and
// returns the upstream response. The route's timeout governs this step
// only; cancelling parent aborts the dispatch.
func (d *Dispatcher) Dispatch(parent context.Context, route *router.Route, msg *message.Context) (*Response, error) {
	timeoutMS := route.TimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = 30_000
	}
	ctx, cancel := context.WithTimeout(parent, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	target, err := joinUpstream(route.Upstream, msg.Destination)
	if err != nil {
		return nil, gwerr.ConfigError(err)
	}

	method := msg.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if msg.Payload.Len() > 0 {
		body = bytes.NewReader(msg.Payload.Bytes())
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, gwerr.Internal(err)
	}
	if msg.ContentType != "" {
		req.Header.Set("Content-Type", msg.ContentType)
	}
	req.Header.Set("Traceparent", tracing.FormatTraceparent(msg.TraceID, msg.SpanID))
	for k, v := range msg.Metadata {
		if k == "authorization" {
			req.Header.Set("Authorization", v)
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, gwerr.ClientCancelled()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, gwerr.UpstreamTimeout(route.Upstream, timeoutMS)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, gwerr.UpstreamTimeout(route.Upstream, timeoutMS)
		}
		return nil, gwerr.UpstreamConnect(route.Upstream, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, d.MaxResponseSize))
	if err != nil {
		return nil, gwerr.UpstreamConnect(route.Upstream, err)
	}

	if resp.StatusCode >= 500 {
		return nil, gwerr.UpstreamStatus(route.Upstream, resp.StatusCode)
	}

	out := &Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        respBody,
		Header:      map[string]string{},
	}
	return out, nil
}

// joinUpstream combines the upstream base URL with the request path.
func joinUpstream(upstream, destination string) (string, error) {
	base, err := url.Parse(upstream)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(destination)
	if err != nil || ref.IsAbs() {
		// Non-path destinations (MQTT topics, SOAP actions) are sent
		// to the upstream base.
		return upstream, nil
	}
	return base.ResolveReference(ref).String(), nil
}
