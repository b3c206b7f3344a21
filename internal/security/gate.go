// Package security composes the three independent request-path stages
// into one gate: WAF pattern match, token-bucket rate limit, then JWT
// validation. The first stage to fail short-circuits the request.
package security

import (
	"go.uber.org/zap"

	gwerr "github.com/YASSERRMD/naseejmesh/internal/errors"
	"github.com/YASSERRMD/naseejmesh/internal/logging"
	"github.com/YASSERRMD/naseejmesh/internal/message"
	"github.com/YASSERRMD/naseejmesh/internal/security/auth"
	"github.com/YASSERRMD/naseejmesh/internal/security/ratelimit"
	"github.com/YASSERRMD/naseejmesh/internal/security/waf"
)

// Config aggregates the three stage configs.
type Config struct {
	WAF       waf.Config       `yaml:"waf"`
	RateLimit ratelimit.Config `yaml:"rate_limit"`
	JWT       auth.Config      `yaml:"jwt"`
}

// Gate holds the three stages. Any stage may be nil, in which case it
// is skipped.
type Gate struct {
	waf       *waf.Engine
	limiter   *ratelimit.Limiter
	validator *auth.Validator
}

// NewGate builds the gate from config. WAF and JWT are built only when
// enabled; the rate limiter only when RequestsPerWindow is positive.
func NewGate(cfg Config) (*Gate, error) {
	g := &Gate{}

	if cfg.WAF.Enabled {
		engine, err := waf.New(cfg.WAF)
		if err != nil {
			return nil, err
		}
		g.waf = engine
	}

	if cfg.RateLimit.RequestsPerWindow > 0 {
		g.limiter = ratelimit.New(cfg.RateLimit)
	}

	if cfg.JWT.Enabled {
		validator, err := auth.NewValidator(cfg.JWT)
		if err != nil {
			return nil, err
		}
		g.validator = validator
	}

	return g, nil
}

// NewGateFrom assembles a gate from pre-built stages, used by tests and
// by callers that manage stage lifecycles themselves.
func NewGateFrom(w *waf.Engine, l *ratelimit.Limiter, v *auth.Validator) *Gate {
	return &Gate{waf: w, limiter: l, validator: v}
}

// Limiter exposes the rate limiter for cleanup scheduling.
func (g *Gate) Limiter() *ratelimit.Limiter {
	return g.limiter
}

// Check runs the gate against a context. clientKey identifies the
// caller for rate limiting (source address or authenticated subject);
// authHeader is the raw Authorization header, empty when the protocol
// has none. Returns the validated claims when JWT is enabled.
func (g *Gate) Check(ctx *message.Context, clientKey, rawQuery, authHeader string) (*auth.Claims, error) {
	if g.waf != nil {
		res := g.waf.ScanRequest(ctx.Destination, rawQuery, ctx.Payload.Bytes())
		if !res.Allowed {
			logging.Warn("waf blocked request",
				zap.String("trace_id", ctx.TraceID),
				zap.String("rule", res.RuleID),
				zap.String("category", res.Category),
			)
			return nil, gwerr.WafBlocked(res.RuleID, res.Category)
		}
		if res.RuleID != "" {
			// DetectOnly match: report and continue.
			logging.Warn("waf detected threat",
				zap.String("trace_id", ctx.TraceID),
				zap.String("rule", res.RuleID),
				zap.String("category", res.Category),
			)
			ctx.SetMeta("waf.detected_rule", res.RuleID)
		}
	}

	if g.limiter != nil {
		res := g.limiter.Check(clientKey)
		if !res.Allowed {
			return nil, gwerr.RateLimited(res.RetryAfterMS)
		}
	}

	if g.validator != nil {
		token, err := auth.ExtractBearer(authHeader)
		if err != nil {
			return nil, err
		}
		claims, err := g.validator.Validate(token)
		if err != nil {
			return nil, err
		}
		if claims.Subject != "" {
			ctx.SetMeta("auth.subject", claims.Subject)
		}
		return claims, nil
	}

	return nil, nil
}
