// Package server hosts authenticated XML-RPC dispatchers over HTTP.
//
// Request processing pipeline:
//
//	net/http → gorilla/rpc Server → codec.ServerCodec (decode methodCall)
//	  → Host.Dispatch → route by qualified name → middleware chain
//	    → Dispatcher.Dispatch (resolve → open args → invoke) → encode methodResponse
//
// Every qualified name a mounted dispatcher exposes is routed to that
// dispatcher. Names that only share a dispatcher's "root.namespace." prefix are
// routed to it too, so it can answer "Method not allowed". Anything else is a
// -32601 fault.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/rpc"
	"go.uber.org/zap"

	"secure-xmlrpc/codec"
	"secure-xmlrpc/message"
	"secure-xmlrpc/middleware"
	"secure-xmlrpc/registry"
)

const (
	DefaultPath = "/xmlrpc"

	serviceName   = "Host"
	serviceMethod = serviceName + ".Dispatch"
	registryTTL   = 10
)

// Server routes inbound XML-RPC calls to mounted dispatchers.
type Server struct {
	path   string
	logger *zap.Logger
	rpc    *rpc.Server

	mu          sync.RWMutex
	exact       map[string]*Dispatcher // Qualified method name → dispatcher
	prefixes    map[string]*Dispatcher // "root.namespace." → dispatcher
	dispatchers []*Dispatcher

	middlewares []middleware.Middleware
	once        sync.Once
	handler     middleware.HandlerFunc

	httpServer    atomic.Pointer[http.Server]
	addr          atomic.Pointer[net.Addr]
	shutdown      atomic.Bool
	registry      registry.Registry
	advertiseAddr string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPath sets the HTTP path the server answers on. Serve listens on this
// path only; Handler answers on any path.
func WithPath(path string) Option {
	return func(s *Server) {
		if path != "" {
			s.path = path
		}
	}
}

// NewServer creates a server with no dispatchers mounted.
func NewServer(opts ...Option) *Server {
	s := &Server{
		path:     DefaultPath,
		logger:   zap.NewNop(),
		rpc:      rpc.NewServer(),
		exact:    make(map[string]*Dispatcher),
		prefixes: make(map[string]*Dispatcher),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rpc.RegisterCodec(codec.NewServerCodec(serviceMethod), "text/xml")
	if err := s.rpc.RegisterService(&hostService{s}, serviceName); err != nil {
		panic(fmt.Sprintf("server: register host service: %v", err))
	}
	return s
}

// Mount registers every qualified name d exposes. Mounting a namespace twice
// is an error. Base-level names such as "wp.validate" stay with the first
// dispatcher mounted under that root.
func (s *Server) Mount(d *Dispatcher) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.prefixes[d.Prefix()]; taken {
		return fmt.Errorf("server: namespace %s already mounted", strings.TrimSuffix(d.Prefix(), "."))
	}

	names := d.Methods()
	for _, name := range names {
		if owner, taken := s.exact[name]; taken {
			s.logger.Warn("base method already mounted",
				zap.String("method", name),
				zap.String("owner", owner.Root()+"."+owner.Namespace()))
			continue
		}
		s.exact[name] = d
	}
	s.prefixes[d.Prefix()] = d
	s.dispatchers = append(s.dispatchers, d)
	s.logger.Info("mounted dispatcher",
		zap.String("namespace", d.Root()+"."+d.Namespace()),
		zap.Strings("methods", names))
	return nil
}

// Methods returns every routed qualified name.
func (s *Server) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.exact))
	for name := range s.exact {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Use registers a middleware. Middlewares apply in the order they are added
// and must be registered before the first request.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Handler returns the HTTP handler answering XML-RPC on any path.
func (s *Server) Handler() http.Handler {
	return s.rpc
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.rpc.ServeHTTP(w, r)
}

func (s *Server) route(method string) *Dispatcher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.exact[method]; ok {
		return d
	}
	for prefix, d := range s.prefixes {
		if strings.HasPrefix(method, prefix) {
			return d
		}
	}
	return nil
}

func (s *Server) chain() middleware.HandlerFunc {
	s.once.Do(func() {
		s.handler = middleware.Chain(s.middlewares...)(s.dispatch)
	})
	return s.handler
}

// dispatch is the innermost handler: it hands the call to the dispatcher that
// owns its name.
func (s *Server) dispatch(ctx context.Context, call *message.Call) *message.Reply {
	d := s.route(call.Method)
	if d == nil {
		return &message.Reply{Fault: unknownMethod(call.Method)}
	}
	value, err := d.Dispatch(ctx, call)
	if err != nil {
		return &message.Reply{Fault: message.AsFault(err)}
	}
	return &message.Reply{Value: value}
}

func unknownMethod(name string) *message.Fault {
	return message.NewFault(message.CodeMethodNotFound,
		fmt.Sprintf("server error. requested method %s does not exist.", name))
}

// hostService is the single gorilla/rpc service every call is decoded into.
type hostService struct {
	s *Server
}

func (h *hostService) Dispatch(r *http.Request, call *message.Call, reply *message.Reply) error {
	*reply = *h.s.chain()(r.Context(), call)
	return nil
}

// Serve listens on address and serves until Shutdown. When reg is non-nil,
// every mounted namespace is advertised as advertiseAddr, which must be
// routable by clients (":8080" is not).
func (s *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, s.rpc)
	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(s.logger.Named("http")),
	}
	s.httpServer.Store(httpServer)
	s.chain()

	s.advertiseAddr = advertiseAddr
	if reg != nil {
		s.registry = reg
		for _, name := range s.namespaces() {
			err := reg.Register(name, registry.ServiceInstance{
				Addr:   advertiseAddr,
				Path:   s.path,
				Weight: 1,
			}, registryTTL)
			if err != nil {
				listener.Close()
				return fmt.Errorf("server: advertise %s: %w", name, err)
			}
		}
	}

	addr := listener.Addr()
	s.addr.Store(&addr)
	s.logger.Info("serving xmlrpc",
		zap.String("addr", addr.String()),
		zap.String("path", s.path))
	err = httpServer.Serve(listener)
	if s.shutdown.Load() && errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the listening address once Serve is accepting connections, nil
// before that.
func (s *Server) Addr() net.Addr {
	if addr := s.addr.Load(); addr != nil {
		return *addr
	}
	return nil
}

func (s *Server) namespaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.dispatchers))
	for _, d := range s.dispatchers {
		names = append(names, d.Root()+"."+d.Namespace())
	}
	return names
}

// Shutdown withdraws the advertised namespaces, stops accepting connections
// and waits up to timeout for in-flight calls.
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.registry != nil {
		for _, name := range s.namespaces() {
			if err := s.registry.Deregister(name, s.advertiseAddr); err != nil {
				s.logger.Warn("deregister failed", zap.String("namespace", name), zap.Error(err))
			}
		}
	}

	s.shutdown.Store(true)
	httpServer := s.httpServer.Load()
	if httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("timeout waiting for ongoing requests to finish: %w", err)
	}
	return nil
}
