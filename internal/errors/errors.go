package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Category identifies the stable error class used for metrics and logging.
type Category string

const (
	CategoryRouting   Category = "routing"
	CategoryClient    Category = "client_error"
	CategorySecurity  Category = "security"
	CategoryUpstream  Category = "upstream"
	CategoryTransform Category = "transform"
	CategoryConfig    Category = "config"
	CategoryDatabase  Category = "database"
	CategoryInternal  Category = "internal"
)

// GatewayError is the one error value the request pipeline produces.
// The egress adapter renders it as a protocol-appropriate response.
type GatewayError struct {
	Code         int      `json:"code"`
	Message      string   `json:"message"`
	Category     Category `json:"category"`
	Details      string   `json:"details,omitempty"`
	RuleID       string   `json:"rule_id,omitempty"`
	RetryAfterMS int64    `json:"retry_after_ms,omitempty"`
	underlying   error
}

func (e *GatewayError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.underlying
}

// Retryable reports whether an upstream retry could succeed.
// Only connection failures, timeouts and 5xx upstream statuses qualify.
func (e *GatewayError) Retryable() bool {
	if e.Category != CategoryUpstream {
		return false
	}
	return e.Code == http.StatusBadGateway ||
		e.Code == http.StatusGatewayTimeout ||
		e.Code >= 500
}

// WriteJSON renders the error as a JSON HTTP response.
func (e *GatewayError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Gateway-Error-Category", string(e.Category))
	if e.RetryAfterMS > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", (e.RetryAfterMS+999)/1000))
	}
	w.WriteHeader(e.Code)
	json.NewEncoder(w).Encode(map[string]interface{}{"error": e})
}

// WithDetails returns a copy of the error carrying extra detail text.
func (e *GatewayError) WithDetails(details string) *GatewayError {
	c := *e
	c.Details = details
	return &c
}

// Wrap returns a copy of the error with an underlying cause attached.
func (e *GatewayError) Wrap(err error) *GatewayError {
	c := *e
	c.underlying = err
	return &c
}

// RouteNotFound is returned when no pattern in the routing table matches.
func RouteNotFound(path string) *GatewayError {
	return &GatewayError{
		Code:     http.StatusNotFound,
		Message:  fmt.Sprintf("route not found: %s", path),
		Category: CategoryRouting,
	}
}

// MethodNotAllowed is returned when the matched route rejects the method.
func MethodNotAllowed(method, path string) *GatewayError {
	return &GatewayError{
		Code:     http.StatusMethodNotAllowed,
		Message:  fmt.Sprintf("method %s not allowed for path: %s", method, path),
		Category: CategoryRouting,
	}
}

// PayloadTooLarge is returned by the bounded body reader on overflow.
func PayloadTooLarge(limit int64) *GatewayError {
	return &GatewayError{
		Code:     http.StatusRequestEntityTooLarge,
		Message:  fmt.Sprintf("payload exceeds limit of %d bytes", limit),
		Category: CategoryClient,
	}
}

// WafBlocked is returned when a WAF rule matches in block mode.
func WafBlocked(ruleID, category string) *GatewayError {
	return &GatewayError{
		Code:     http.StatusForbidden,
		Message:  fmt.Sprintf("request blocked: %s", category),
		Category: CategorySecurity,
		RuleID:   ruleID,
	}
}

// RateLimited is returned when a token bucket has no capacity left.
func RateLimited(retryAfterMS int64) *GatewayError {
	return &GatewayError{
		Code:         http.StatusTooManyRequests,
		Message:      "rate limit exceeded",
		Category:     CategorySecurity,
		RetryAfterMS: retryAfterMS,
	}
}

// Unauthorized is returned for missing or invalid credentials.
func Unauthorized(details string) *GatewayError {
	return &GatewayError{
		Code:     http.StatusUnauthorized,
		Message:  "unauthorized",
		Category: CategorySecurity,
		Details:  details,
	}
}

// TokenExpired is returned for a structurally valid but expired token.
func TokenExpired() *GatewayError {
	return &GatewayError{
		Code:     http.StatusUnauthorized,
		Message:  "token expired",
		Category: CategorySecurity,
	}
}

// InsufficientScope is returned when a valid token lacks a required scope.
func InsufficientScope(scope string) *GatewayError {
	return &GatewayError{
		Code:     http.StatusForbidden,
		Message:  fmt.Sprintf("insufficient scope: %s required", scope),
		Category: CategorySecurity,
	}
}

// ClientCancelled is returned when the caller abandoned the request
// while upstream dispatch was in flight.
func ClientCancelled() *GatewayError {
	return &GatewayError{
		Code:     499,
		Message:  "client cancelled request",
		Category: CategoryClient,
	}
}

// BodyReadError is returned when the request body cannot be read.
func BodyReadError(err error) *GatewayError {
	return &GatewayError{
		Code:       http.StatusBadRequest,
		Message:    "failed to read request body",
		Category:   CategoryClient,
		underlying: err,
	}
}

// SerializationError is returned when a payload cannot be decoded.
func SerializationError(err error) *GatewayError {
	return &GatewayError{
		Code:       http.StatusBadRequest,
		Message:    "serialization error",
		Category:   CategoryClient,
		underlying: err,
	}
}

// TransformCompile is returned when a transform script fails to compile.
func TransformCompile(err error) *GatewayError {
	return &GatewayError{
		Code:       http.StatusInternalServerError,
		Message:    "transform compilation failed",
		Category:   CategoryTransform,
		underlying: err,
	}
}

// TransformExecute is returned when a transform script fails at runtime.
func TransformExecute(err error) *GatewayError {
	return &GatewayError{
		Code:       http.StatusInternalServerError,
		Message:    "transform execution failed",
		Category:   CategoryTransform,
		underlying: err,
	}
}

// UpstreamConnect is returned when the upstream connection fails.
func UpstreamConnect(upstream string, err error) *GatewayError {
	return &GatewayError{
		Code:       http.StatusBadGateway,
		Message:    fmt.Sprintf("upstream connection failed: %s", upstream),
		Category:   CategoryUpstream,
		underlying: err,
	}
}

// UpstreamStatus propagates an upstream error status.
func UpstreamStatus(upstream string, status int) *GatewayError {
	return &GatewayError{
		Code:     status,
		Message:  fmt.Sprintf("upstream error from %s: %d", upstream, status),
		Category: CategoryUpstream,
	}
}

// UpstreamTimeout is returned when the per-route dispatch deadline passes.
func UpstreamTimeout(upstream string, timeoutMS int64) *GatewayError {
	return &GatewayError{
		Code:     http.StatusGatewayTimeout,
		Message:  fmt.Sprintf("timeout after %dms for upstream: %s", timeoutMS, upstream),
		Category: CategoryUpstream,
	}
}

// ConfigError wraps a configuration failure.
func ConfigError(err error) *GatewayError {
	return &GatewayError{
		Code:       http.StatusInternalServerError,
		Message:    "configuration error",
		Category:   CategoryConfig,
		underlying: err,
	}
}

// DatabaseError wraps a persistent store failure.
func DatabaseError(err error) *GatewayError {
	return &GatewayError{
		Code:       http.StatusInternalServerError,
		Message:    "database error",
		Category:   CategoryDatabase,
		underlying: err,
	}
}

// Internal wraps any other failure.
func Internal(err error) *GatewayError {
	return &GatewayError{
		Code:       http.StatusInternalServerError,
		Message:    "internal error",
		Category:   CategoryInternal,
		underlying: err,
	}
}

// AsGatewayError converts any error into a *GatewayError, wrapping
// unknown errors as internal.
func AsGatewayError(err error) *GatewayError {
	if err == nil {
		return nil
	}
	if ge, ok := err.(*GatewayError); ok {
		return ge
	}
	return Internal(err)
}
