package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"charfs/internal/errno"
)

// Params holds the values bound by a route's {placeholders}.
type Params map[string]string

// ReadFunc serves a read on a routed path.
type ReadFunc func(ctx context.Context, f *File, p Params) errno.Result[any]

// WriteFunc serves a write on a routed path.
type WriteFunc func(ctx context.Context, f *File, p Params, value any) errno.Code

// Route maps one path shape to its handlers.
type Route struct {
	Pattern  string
	segments []string
	read     ReadFunc
	write    WriteFunc
}

func (r *Route) match(segs []string) (Params, bool) {
	if len(segs) != len(r.segments) {
		return nil, false
	}
	params := Params{}
	for i, want := range r.segments {
		if strings.HasPrefix(want, "{") && strings.HasSuffix(want, "}") {
			if segs[i] == "" {
				return nil, false
			}
			params[want[1:len(want)-1]] = segs[i]
			continue
		}
		if want != segs[i] {
			return nil, false
		}
	}
	return params, true
}

// Router is a routing table from subpath shapes such as "/{entity}/{ability}"
// to handlers. Devices build one when they mount; lookups never parse the
// patterns again. Routes are tried in registration order.
type Router struct {
	routes []*Route
}

// NewRouter returns an empty routing table.
func NewRouter() *Router {
	return &Router{}
}

// Handle registers pattern. Either handler may be nil.
func (r *Router) Handle(pattern string, read ReadFunc, write WriteFunc) *Router {
	r.routes = append(r.routes, &Route{
		Pattern:  pattern,
		segments: splitRoute(pattern),
		read:     read,
		write:    write,
	})
	return r
}

// Routes lists the registered patterns in order.
func (r *Router) Routes() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.routes))
	for _, route := range r.routes {
		out = append(out, route.Pattern)
	}
	return out
}

// Match finds the first route accepting subpath. A nil Router matches nothing.
func (r *Router) Match(subpath string) (*Route, Params, bool) {
	if r == nil {
		return nil, nil, false
	}
	segs := splitRoute(subpath)
	for _, route := range r.routes {
		if params, ok := route.match(segs); ok {
			return route, params, true
		}
	}
	return nil, nil, false
}

// Open accepts subpaths some route serves. Anything else is EINVAL.
func (r *Router) Open(f *File) errno.Code {
	if _, _, ok := r.Match(f.Subpath); !ok {
		logger.Debug("No route for %s", f.Path)
		return errno.EINVAL
	}
	return errno.SUCCESS
}

// Read dispatches a read. Unknown shapes and read-less routes are EINVAL.
func (r *Router) Read(ctx context.Context, f *File) errno.Result[any] {
	route, params, ok := r.Match(f.Subpath)
	if !ok || route.read == nil {
		logger.Debug("No read route for %s", f.Path)
		return errno.Fail[any](errno.EINVAL)
	}
	return route.read(ctx, f, params)
}

// Write dispatches a write. Unknown shapes and write-less routes are EINVAL.
func (r *Router) Write(ctx context.Context, f *File, value any) errno.Code {
	route, params, ok := r.Match(f.Subpath)
	if !ok || route.write == nil {
		logger.Debug("No write route for %s", f.Path)
		return errno.EINVAL
	}
	return route.write(ctx, f, params, value)
}

func splitRoute(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// IoctlFunc serves one ioctl request code.
type IoctlFunc func(ctx context.Context, f *File, arg any) errno.Result[any]

// Ioctls maps request codes to handlers.
type Ioctls map[uint32]IoctlFunc

// Dispatch runs the handler for request, EINVAL when none is registered.
func (t Ioctls) Dispatch(ctx context.Context, f *File, request uint32, arg any) errno.Result[any] {
	h, ok := t[request]
	if !ok {
		logger.Debug("Unknown ioctl %d on %s", request, f.Path)
		return errno.Fail[any](errno.EINVAL)
	}
	return h(ctx, f, arg)
}

// Requests lists the registered request codes in ascending order.
func (t Ioctls) Requests() []uint32 {
	out := make([]uint32, 0, len(t))
	for req := range t {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DecodeArg converts an ioctl payload or a read value into T. Values already
// of type T (or *T) pass through; JSON and loosely typed values are decoded.
// Anything that does not fit T is EINVAL.
func DecodeArg[T any](arg any) errno.Result[T] {
	switch v := arg.(type) {
	case T:
		return errno.Ok(v)
	case *T:
		if v == nil {
			return errno.Fail[T](errno.EINVAL)
		}
		return errno.Ok(*v)
	case nil:
		return errno.Fail[T](errno.EINVAL)
	}

	var raw []byte
	switch v := arg.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(arg)
		if err != nil {
			return errno.Fail[T](errno.EINVAL)
		}
		raw = b
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		logger.Trace("Cannot decode %s into %T: %v", truncate(raw), out, err)
		return errno.Fail[T](errno.EINVAL)
	}
	return errno.Ok(out)
}

func truncate(b []byte) string {
	const limit = 64
	if len(b) <= limit {
		return string(b)
	}
	return fmt.Sprintf("%s... (%d bytes)", b[:limit], len(b))
}

// AnyResult widens a typed result for Read and Ioctl handlers.
func AnyResult[T any](r errno.Result[T]) errno.Result[any] {
	return errno.Map(r, func(v T) any { return v })
}

// CodeResult wraps a bare code for Ioctl handlers that return no value.
func CodeResult(code errno.Code) errno.Result[any] {
	return errno.Result[any]{Code: code}
}

// Routed is a Base whose Open, Read and Write go through a routing table
// installed with Serve, normally from OnMount.
type Routed struct {
	Base
	routes *Router
}

// NewRouted returns a Routed for id depending on deps.
func NewRouted(id string, deps ...Capability) Routed {
	return Routed{Base: NewBase(id, deps...)}
}

// Serve installs the routing table.
func (r *Routed) Serve(routes *Router) {
	r.routes = routes
}

// Routes lists the path shapes served below the mount prefix.
func (r *Routed) Routes() []string {
	return r.routes.Routes()
}

func (r *Routed) Open(_ context.Context, f *File) errno.Code {
	if code := r.Guard(); code != errno.SUCCESS {
		return code
	}
	return r.routes.Open(f)
}

func (r *Routed) Read(ctx context.Context, f *File) errno.Result[any] {
	if code := r.Guard(); code != errno.SUCCESS {
		return errno.Fail[any](code)
	}
	return r.routes.Read(ctx, f)
}

func (r *Routed) Write(ctx context.Context, f *File, value any) errno.Code {
	if code := r.Guard(); code != errno.SUCCESS {
		return code
	}
	return r.routes.Write(ctx, f, value)
}
