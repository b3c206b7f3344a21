package pipeline

import (
	"encoding/json"
	"net/http"

	"github.com/YASSERRMD/naseejmesh/internal/adapter/soap"
	"github.com/YASSERRMD/naseejmesh/internal/body"
	gwerr "github.com/YASSERRMD/naseejmesh/internal/errors"
	"github.com/YASSERRMD/naseejmesh/internal/tracing"
)

// SOAPHandler adapts the pipeline to SOAP-over-HTTP ingress: the
// envelope is parsed into a JSON context, the pipeline runs, and the
// upstream's JSON result is rendered back into a response envelope.
// Pipeline errors become SOAP faults.
func (p *Pipeline) SOAPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := body.Read(r.Body, p.MaxBodySize)
		if err != nil {
			writeFault(w, soap.Version11, "soap:Client", gwerr.AsGatewayError(err))
			return
		}

		env, err := soap.Parse(data)
		if err != nil {
			ge := gwerr.SerializationError(err)
			writeFault(w, soap.Version11, "soap:Client", ge)
			return
		}

		ctx, err := env.ToContext()
		if err != nil {
			writeFault(w, env.Version, "soap:Server", gwerr.AsGatewayError(err))
			return
		}
		defer ctx.Release()
		ctx.Method = r.Method
		ctx.Source = clientAddr(r)
		if tp := r.Header.Get("Traceparent"); tp != "" {
			if traceID, spanID, ok := tracing.ParseTraceparent(tp); ok {
				ctx.TraceID = traceID
				ctx.ParentSpanID = spanID
			}
		}

		// SOAPAction header (1.1) takes priority over the envelope.
		if action := r.Header.Get("SOAPAction"); action != "" && action != `""` {
			ctx.Destination = trimQuotes(action)
		}

		resp, err := p.Process(Request{
			Parent:     r.Context(),
			Ctx:        ctx,
			RawQuery:   r.URL.RawQuery,
			AuthHeader: r.Header.Get("Authorization"),
			ClientKey:  ctx.Source,
		})
		if err != nil {
			ge := gwerr.AsGatewayError(err)
			code := "soap:Server"
			if ge.Code < 500 {
				code = "soap:Client"
			}
			writeFault(w, env.Version, code, ge)
			return
		}

		// Render the upstream JSON back into a response envelope.
		var bodyVal interface{}
		if len(resp.Body) > 0 && json.Valid(resp.Body) {
			json.Unmarshal(resp.Body, &bodyVal)
		} else {
			bodyVal = string(resp.Body)
		}

		out, err := soap.BuildResponse(env.Version, bodyVal, nil)
		if err != nil {
			writeFault(w, env.Version, "soap:Server", gwerr.Internal(err))
			return
		}

		w.Header().Set("Content-Type", env.Version.ContentType())
		w.Header().Set("Traceparent", tracing.FormatTraceparent(ctx.TraceID, ctx.SpanID))
		w.WriteHeader(http.StatusOK)
		w.Write(out)
	})
}

func writeFault(w http.ResponseWriter, version soap.Version, code string, ge *gwerr.GatewayError) {
	out, err := soap.BuildFault(version, code, ge.Message, string(ge.Category))
	if err != nil {
		http.Error(w, ge.Message, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", version.ContentType())
	w.WriteHeader(http.StatusInternalServerError)
	w.Write(out)
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
