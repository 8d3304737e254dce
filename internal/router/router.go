// Package router maps "namespace.action" methods to registered handlers and
// normalizes every outcome into a response envelope.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/ppiankov/cmdgate/internal/logging"
	"github.com/ppiankov/cmdgate/internal/metrics"
	"github.com/ppiankov/cmdgate/internal/model"
)

// Handler executes the actions of one namespace.
type Handler interface {
	Handle(ctx context.Context, action string, params json.RawMessage, cctx model.CallContext) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, action string, params json.RawMessage, cctx model.CallContext) (any, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, action string, params json.RawMessage, cctx model.CallContext) (any, error) {
	return f(ctx, action, params, cctx)
}

// Router dispatches requests by namespace. Safe for concurrent use.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	clock   clock.Clock
	metrics *metrics.Metrics
	log     *slog.Logger
	stats   *stats
}

// Option configures a Router.
type Option func(*Router)

// WithClock replaces the time source used for uptime.
func WithClock(c clock.Clock) Option {
	return func(r *Router) { r.clock = c }
}

// WithMetrics mirrors route counters to Prometheus.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// New creates an empty Router.
func New(opts ...Option) *Router {
	r := &Router{
		handlers: make(map[string]Handler),
		clock:    clock.New(),
		log:      logging.Logger("router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.stats = newStats(r.clock.Now())
	return r
}

// RegisterHandler binds handler to namespace. Registration happens at
// startup; a nil handler or an empty or duplicate namespace is an error.
func (r *Router) RegisterHandler(namespace string, h Handler) error {
	if namespace == "" || strings.Contains(namespace, ".") {
		return fmt.Errorf("invalid namespace %q", namespace)
	}
	if h == nil {
		return fmt.Errorf("handler for namespace %q is nil", namespace)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[namespace]; exists {
		return fmt.Errorf("handler for namespace %q already registered", namespace)
	}
	r.handlers[namespace] = h
	return nil
}

// Namespaces returns the registered namespaces, sorted.
func (r *Router) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for ns := range r.handlers {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// SplitMethod splits method on the first dot. The action may itself
// contain dots: "channel.telegram.send" is ("channel", "telegram.send").
func SplitMethod(method string) (namespace, action string, ok bool) {
	namespace, action, found := strings.Cut(method, ".")
	if !found || namespace == "" || action == "" {
		return "", "", false
	}
	return namespace, action, true
}

// Route dispatches req and returns its response. It never fails: every
// error, including a handler panic, becomes an error envelope whose id
// matches the request.
func (r *Router) Route(ctx context.Context, req *model.Request, cctx model.CallContext) model.Response {
	if req == nil {
		r.record("", false)
		return model.NewError("", model.CodeInvalidRequest, "Invalid request", nil)
	}

	namespace, action, ok := SplitMethod(req.Method)
	if !ok {
		r.record("", false)
		return model.NewError(req.ID, model.CodeInvalidRequest, fmt.Sprintf("Malformed method %q", req.Method), nil)
	}

	r.mu.RLock()
	h := r.handlers[namespace]
	r.mu.RUnlock()
	if h == nil {
		r.record(namespace, false)
		return model.NewError(req.ID, model.CodeMethodNotFound, fmt.Sprintf("No handler for namespace %q", namespace), nil)
	}

	result, err := r.invoke(ctx, h, action, req.Params, cctx)
	if err != nil {
		r.record(namespace, false)
		r.log.Debug("handler failed", "method", req.Method, "err", err)
		return errorResponse(req.ID, err)
	}

	resp, err := model.NewResult(req.ID, result)
	if err != nil {
		r.record(namespace, false)
		return model.NewError(req.ID, model.CodeInternalError, err.Error(), nil)
	}
	r.record(namespace, true)
	return resp
}

func (r *Router) invoke(ctx context.Context, h Handler, action string, params json.RawMessage, cctx model.CallContext) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("handler panic", "action", action, "panic", p)
			result = nil
			err = &model.RPCError{Code: model.CodeInternalError, Message: fmt.Sprintf("handler panic: %v", p)}
		}
	}()
	return h.Handle(ctx, action, params, cctx)
}

func (r *Router) record(namespace string, ok bool) {
	r.stats.record(namespace, ok)
	if namespace == "" {
		namespace = "_malformed"
	}
	r.metrics.ObserveRoute(namespace, ok)
}

// errorResponse converts a handler error into an error envelope. Errors
// carrying an *model.RPCError keep their code, message and data.
func errorResponse(id string, err error) model.Response {
	var rpcErr *model.RPCError
	if errors.As(err, &rpcErr) {
		code := rpcErr.Code
		if code == 0 {
			code = model.CodeInternalError
		}
		return model.NewError(id, code, rpcErr.Message, rpcErr.Data)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewError(id, model.CodeRequestTimeout, "Handler timed out", nil)
	}
	return model.NewError(id, model.CodeInternalError, err.Error(), nil)
}

// Errorf returns an error carrying a wire error code.
func Errorf(code int, format string, args ...any) error {
	return &model.RPCError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvalidParams returns a -32602 error.
func InvalidParams(format string, args ...any) error {
	return Errorf(model.CodeInvalidParams, format, args...)
}

// DecodeParams unmarshals params into v. Empty params leave v untouched.
func DecodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return InvalidParams("invalid params: %v", err)
	}
	return nil
}
