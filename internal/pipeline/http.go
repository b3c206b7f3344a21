package pipeline

import (
	"net"
	"net/http"

	"github.com/YASSERRMD/naseejmesh/internal/body"
	gwerr "github.com/YASSERRMD/naseejmesh/internal/errors"
	"github.com/YASSERRMD/naseejmesh/internal/message"
	"github.com/YASSERRMD/naseejmesh/internal/tracing"
)

// HTTPHandler adapts the pipeline to HTTP ingress: it reads the body
// with the ceiling, builds the context with trace propagation, runs
// the pipeline, and renders the result.
func (p *Pipeline) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := body.Read(r.Body, p.MaxBodySize)
		if err != nil {
			gwerr.AsGatewayError(err).WriteJSON(w)
			return
		}

		ctx := message.New(message.ProtocolHTTP, r.URL.Path, data)
		defer ctx.Release()
		ctx.Method = r.Method
		ctx.ContentType = r.Header.Get("Content-Type")
		ctx.Source = clientAddr(r)

		if tp := r.Header.Get("Traceparent"); tp != "" {
			if traceID, spanID, ok := tracing.ParseTraceparent(tp); ok {
				ctx.TraceID = traceID
				ctx.ParentSpanID = spanID
			}
		}
		ctx.SpanID = message.NewSpanID()
		if auth := r.Header.Get("Authorization"); auth != "" {
			ctx.SetMeta("authorization", auth)
		}

		resp, err := p.Process(Request{
			Parent:     r.Context(),
			Ctx:        ctx,
			RawQuery:   r.URL.RawQuery,
			AuthHeader: r.Header.Get("Authorization"),
			ClientKey:  ctx.Source,
		})

		w.Header().Set("Traceparent", tracing.FormatTraceparent(ctx.TraceID, ctx.SpanID))
		if err != nil {
			gwerr.AsGatewayError(err).WriteJSON(w)
			return
		}

		for k, v := range resp.Header {
			w.Header().Set(k, v)
		}
		if resp.ContentType != "" {
			w.Header().Set("Content-Type", resp.ContentType)
		}
		w.WriteHeader(resp.Status)
		w.Write(resp.Body)
	})
}

// clientAddr extracts the caller's address for rate-limit keying.
func clientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
