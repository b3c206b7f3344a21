// Package pipeline glues the per-request stages together: bounded body
// read, context construction, security gate, router lookup, optional
// transform, upstream dispatch, and response rendering.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	gwerr "github.com/YASSERRMD/naseejmesh/internal/errors"
	"github.com/YASSERRMD/naseejmesh/internal/logging"
	"github.com/YASSERRMD/naseejmesh/internal/message"
	"github.com/YASSERRMD/naseejmesh/internal/metrics"
	"github.com/YASSERRMD/naseejmesh/internal/router"
	"github.com/YASSERRMD/naseejmesh/internal/security"
	"github.com/YASSERRMD/naseejmesh/internal/transform"
)

// TransformResolver maps a route's transform-script identifier to its
// source text.
type TransformResolver func(id string) (string, error)

// Response is the protocol-neutral result handed to the egress
// adapter.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
	Header      map[string]string
}

// Pipeline is the per-request processing chain. All fields are
// immutable after construction; per-request state lives on the stack.
type Pipeline struct {
	Routes     *router.Handle
	Gate       *security.Gate
	Engine     *transform.Engine
	Transforms TransformResolver
	Dispatcher *Dispatcher
	Metrics    *metrics.Metrics

	MaxBodySize int64
}

// Request carries the protocol-independent inputs alongside the
// context. Parent is the caller's cancellation context; a cancelled
// parent aborts upstream dispatch.
type Request struct {
	Parent     context.Context
	Ctx        *message.Context
	RawQuery   string
	AuthHeader string
	ClientKey  string
}

// Process runs the full pipeline for one ingress message. It returns
// either a response or a *errors.GatewayError; the caller renders
// whichever it gets on the egress protocol.
func (p *Pipeline) Process(req Request) (*Response, error) {
	start := time.Now()
	ctx := req.Ctx

	routeID := "unmatched"
	status := 0
	defer func() {
		if p.Metrics != nil {
			p.Metrics.ObserveRequest(string(ctx.Protocol), routeID, status, time.Since(start))
		}
	}()

	// Security gate: WAF → rate limit → JWT. First failure wins.
	if p.Gate != nil {
		if _, err := p.Gate.Check(ctx, req.ClientKey, req.RawQuery, req.AuthHeader); err != nil {
			ge := gwerr.AsGatewayError(err)
			status = ge.Code
			p.countGateFailure(ge)
			return nil, ge
		}
	}

	// Router lookup on a single table snapshot; the matched route
	// stays valid for this request regardless of later reloads.
	table := p.Routes.Load()
	route, ok := table.Match(ctx.Destination)
	if !ok {
		status = 404
		return nil, gwerr.RouteNotFound(ctx.Destination)
	}
	routeID = route.ID

	if ctx.Method != "" && !route.AllowsMethod(ctx.Method) {
		status = 405
		return nil, gwerr.MethodNotAllowed(ctx.Method, ctx.Destination)
	}

	// Optional transform.
	if route.TransformID != "" {
		if err := p.runTransform(route.TransformID, ctx); err != nil {
			ge := gwerr.AsGatewayError(err)
			status = ge.Code
			return nil, ge
		}
	}

	// Upstream dispatch with the route's timeout.
	parent := req.Parent
	if parent == nil {
		parent = context.Background()
	}
	resp, err := p.Dispatcher.Dispatch(parent, route, ctx)
	if err != nil {
		ge := gwerr.AsGatewayError(err)
		status = ge.Code
		logging.Warn("upstream dispatch failed",
			zap.String("trace_id", ctx.TraceID),
			zap.String("route", route.ID),
			zap.String("category", string(ge.Category)),
			zap.Error(ge),
		)
		return nil, ge
	}

	status = resp.Status
	return resp, nil
}

// runTransform resolves and executes the route's transform script.
func (p *Pipeline) runTransform(id string, ctx *message.Context) error {
	if p.Engine == nil || p.Transforms == nil {
		return gwerr.TransformExecute(gwerr.Internal(nil))
	}
	source, err := p.Transforms(id)
	if err != nil {
		return gwerr.TransformExecute(err)
	}
	if err := p.Engine.Execute(source, ctx); err != nil {
		if te, ok := err.(*transform.Error); ok {
			p.countTransformFailure(te.Kind)
			if te.Kind == transform.FailCompile {
				return gwerr.TransformCompile(err)
			}
		}
		return gwerr.TransformExecute(err)
	}
	return nil
}

func (p *Pipeline) countGateFailure(ge *gwerr.GatewayError) {
	if p.Metrics == nil {
		return
	}
	switch {
	case ge.RuleID != "":
		p.Metrics.WafBlocksTotal.WithLabelValues(ge.RuleID).Inc()
	case ge.Code == 429:
		p.Metrics.RateLimitedTotal.Inc()
	}
}

func (p *Pipeline) countTransformFailure(kind transform.FailureKind) {
	if p.Metrics == nil {
		return
	}
	label := map[transform.FailureKind]string{
		transform.FailCompile: "compile",
		transform.FailExecute: "execute",
		transform.FailTimeout: "timeout",
		transform.FailOutput:  "output",
	}[kind]
	p.Metrics.TransformErrors.WithLabelValues(label).Inc()
}
